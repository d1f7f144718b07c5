package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// Hub fans session events out to connected WebSocket clients. It
// satisfies the data-channel sender interface, so the same publisher
// that feeds a LiveKit room can feed browser clients directly.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) Subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	slog.Info("ws: subscribed", "total", len(h.conns))
}

func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	slog.Info("ws: unsubscribed", "total", len(h.conns))
}

// SendData broadcasts one message to every subscriber. Write failures
// drop the connection rather than failing the publish.
func (h *Hub) SendData(_ context.Context, data []byte) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("ws: write failed, dropping connection", "error", err)
			conn.Close()
			h.Unsubscribe(conn)
		}
	}
	return nil
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// InboundHandler receives raw client messages from the WebSocket,
// the same shapes the LiveKit data channel carries.
type InboundHandler interface {
	HandleData(data []byte, senderIdentity string)
}

type WSHandler struct {
	hub            *Hub
	inbound        InboundHandler
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewWSHandler(hub *Hub, inbound InboundHandler, allowedOrigins []string) *WSHandler {
	h := &WSHandler{hub: hub, inbound: inbound, allowedOrigins: allowedOrigins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade error", "error", err)
		return
	}
	defer conn.Close()

	h.hub.Subscribe(conn)
	defer h.hub.Unsubscribe(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws: read error", "error", err)
			}
			break
		}
		if h.inbound != nil {
			h.inbound.HandleData(data, conn.RemoteAddr().String())
		}
	}
}
