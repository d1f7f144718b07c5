package livekit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/longregen/recite/internal/application/orchestrator"
	"github.com/longregen/recite/internal/ports"
)

const defaultPollInterval = 5 * time.Second

// OrchestratorFactory builds a session loop bound to one room's
// publisher and speaker.
type OrchestratorFactory func(publisher ports.EventPublisher, speaker orchestrator.Speaker) *orchestrator.Orchestrator

// Worker polls for review rooms with a learner waiting and runs one
// agent per room. LiveKit webhooks would replace the poll loop in a
// larger deployment; at one concurrent session polling is enough.
type Worker struct {
	config       *ServiceConfig
	service      *Service
	tts          ports.TTSService
	newMessageID func() string
	factory      OrchestratorFactory
	pollInterval time.Duration
	logger       *slog.Logger

	roomClient *lksdk.RoomServiceClient

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(
	config *ServiceConfig,
	service *Service,
	tts ports.TTSService,
	newMessageID func() string,
	factory OrchestratorFactory,
	logger *slog.Logger,
) (*Worker, error) {
	if config == nil || config.URL == "" || config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("livekit credentials are required")
	}
	if factory == nil {
		return nil, fmt.Errorf("orchestrator factory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		config:       config,
		service:      service,
		tts:          tts,
		newMessageID: newMessageID,
		factory:      factory,
		pollInterval: defaultPollInterval,
		logger:       logger,
		roomClient:   lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret),
		active:       make(map[string]context.CancelFunc),
	}, nil
}

// Run polls until ctx is cancelled, then waits for agents to drain.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("agent worker started", "url", w.config.URL, "room_prefix", RoomPrefix)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, cancel := range w.active {
				cancel()
			}
			w.mu.Unlock()
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := w.scanRooms(ctx); err != nil {
				w.logger.Warn("room scan failed", "error", err)
			}
		}
	}
}

func (w *Worker) scanRooms(ctx context.Context) error {
	rooms, err := w.roomClient.ListRooms(ctx, &lkproto.ListRoomsRequest{})
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	for _, room := range rooms.GetRooms() {
		if !strings.HasPrefix(room.Name, RoomPrefix) {
			continue
		}
		if room.NumParticipants == 0 {
			continue
		}

		w.mu.Lock()
		_, running := w.active[room.Name]
		w.mu.Unlock()
		if running {
			continue
		}
		if w.hasAgent(ctx, room.Name) {
			continue
		}

		roomName := room.Name
		agentCtx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.active[roomName] = cancel
		w.mu.Unlock()

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() {
				cancel()
				w.mu.Lock()
				delete(w.active, roomName)
				w.mu.Unlock()
				w.service.ClearDispatch(roomName)
			}()
			if err := w.runAgent(agentCtx, roomName); err != nil && agentCtx.Err() == nil {
				w.logger.Error("agent exited with error", "room", roomName, "error", err)
			}
		}()
	}
	return nil
}

// runAgent joins the room as the agent participant and runs the
// session loop until the learner leaves or ctx is cancelled.
func (w *Worker) runAgent(ctx context.Context, roomName string) error {
	sessionID := strings.TrimPrefix(roomName, RoomPrefix)
	w.logger.Info("agent joining room", "room", roomName, "session_id", sessionID)

	var router *Router
	roomDone := make(chan struct{})
	var roomDoneOnce sync.Once

	room, err := lksdk.ConnectToRoom(w.config.URL, lksdk.ConnectInfo{
		APIKey:              w.config.APIKey,
		APISecret:           w.config.APISecret,
		RoomName:            roomName,
		ParticipantIdentity: agentIdentityPrefix + sessionID,
		ParticipantName:     w.config.AgentName,
	}, &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataReceived: func(data []byte, params lksdk.DataReceiveParams) {
				if router != nil {
					router.HandleData(data, params.SenderIdentity)
				}
			},
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			w.logger.Info("participant left", "room", roomName, "identity", rp.Identity())
			roomDoneOnce.Do(func() { close(roomDone) })
		},
		OnDisconnected: func() {
			roomDoneOnce.Do(func() { close(roomDone) })
		},
	})
	if err != nil {
		return fmt.Errorf("connect to room %s: %w", roomName, err)
	}
	defer room.Disconnect()

	sender := &roomSender{room: room}
	publisher := NewPublisher(sender, w.newMessageID, w.logger.With("room", roomName))
	speaker := NewSpeaker(w.tts, publisher, sender, w.logger.With("room", roomName))
	orch := w.factory(publisher, speaker)
	router = NewRouter(orch, w.logger.With("room", roomName))

	// The token endpoint recorded which deck the learner picked; the
	// client can still send its own init_session to override.
	if meta, ok := w.service.PendingRoomMetadata(roomName); ok && meta.DeckName != "" {
		orch.Submit(orchestrator.Event{
			Type:      orchestrator.EventInitSession,
			SessionID: sessionID,
			DeckName:  meta.DeckName,
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-roomDone:
			orch.Submit(orchestrator.Event{Type: orchestrator.EventShutdown})
		case <-runCtx.Done():
		}
	}()

	err = orch.Run(runCtx)
	if err != nil && runCtx.Err() == nil {
		return err
	}
	w.logger.Info("agent left room", "room", roomName)
	return nil
}

func (w *Worker) hasAgent(ctx context.Context, roomName string) bool {
	resp, err := w.roomClient.ListParticipants(ctx, &lkproto.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return false
	}
	for _, p := range resp.GetParticipants() {
		if strings.HasPrefix(p.Identity, agentIdentityPrefix) {
			return true
		}
	}
	return false
}
