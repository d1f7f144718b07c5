// Package livekit connects review sessions to LiveKit rooms: access
// tokens and agent dispatch on the API side, and the in-room agent
// (data channel publisher, inbound message router, speaker) on the
// worker side.
package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

const (
	// RoomPrefix namespaces review rooms so the worker ignores
	// unrelated rooms on a shared LiveKit deployment.
	RoomPrefix = "session-"

	agentIdentityPrefix = "agent-"

	// dispatchExpiry bounds how long a room stays in the dispatch
	// cache. Sessions rarely outlive this without reconnecting.
	dispatchExpiry = 5 * time.Minute
)

// SessionRoomName returns the room carrying the given session.
func SessionRoomName(sessionID string) string {
	return RoomPrefix + sessionID
}

type ServiceConfig struct {
	URL                   string
	APIKey                string
	APISecret             string
	AgentName             string
	TokenValidityDuration time.Duration
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		URL:                   "ws://localhost:7880",
		AgentName:             "recite-agent",
		TokenValidityDuration: 6 * time.Hour,
	}
}

// roomAPI is the slice of the room service the dispatcher needs.
type roomAPI interface {
	ListParticipants(ctx context.Context, req *lkproto.ListParticipantsRequest) (*lkproto.ListParticipantsResponse, error)
}

// dispatchAPI creates agent dispatches.
type dispatchAPI interface {
	CreateDispatch(ctx context.Context, req *lkproto.CreateAgentDispatchRequest) (*lkproto.AgentDispatch, error)
}

// RoomMetadata is what the token endpoint knows about a room before
// the agent joins: which deck to load and the input mode.
type RoomMetadata struct {
	DeckName  string `json:"deck_name,omitempty"`
	InputMode string `json:"input_mode,omitempty"`
}

// Service issues access tokens and dispatches the review agent to
// rooms, at most once per room within the dispatch window.
type Service struct {
	config   *ServiceConfig
	rooms    roomAPI
	dispatch dispatchAPI
	logger   *slog.Logger

	mu         sync.Mutex
	dispatched map[string]time.Time
	metadata   map[string]RoomMetadata
}

func NewService(config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("livekit URL is required")
	}
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("livekit API key and secret are required")
	}
	if config.AgentName == "" {
		config.AgentName = "recite-agent"
	}
	if config.TokenValidityDuration == 0 {
		config.TokenValidityDuration = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:     config,
		rooms:      lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret),
		dispatch:   lksdk.NewAgentDispatchServiceClient(config.URL, config.APIKey, config.APISecret),
		logger:     logger,
		dispatched: make(map[string]time.Time),
		metadata:   make(map[string]RoomMetadata),
	}, nil
}

// URL is the client-facing websocket URL.
func (s *Service) URL() string {
	return s.config.URL
}

// GenerateToken mints a join token for the learner: audio publish for
// speech, data publish for the text channel.
func (s *Service) GenerateToken(roomName, identity string) (string, int64, error) {
	if roomName == "" {
		return "", 0, fmt.Errorf("room name is required")
	}
	if identity == "" {
		return "", 0, fmt.Errorf("participant identity is required")
	}

	at := auth.NewAccessToken(s.config.APIKey, s.config.APISecret)
	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(s.config.TokenValidityDuration)

	token, err := at.ToJWT()
	if err != nil {
		return "", 0, fmt.Errorf("generate token: %w", err)
	}
	return token, time.Now().Add(s.config.TokenValidityDuration).Unix(), nil
}

// EnsureAgentDispatched requests an agent for the room unless one was
// dispatched recently or is already present. Dispatch failures clear
// the cache entry so the next token request retries.
func (s *Service) EnsureAgentDispatched(ctx context.Context, roomName string, meta RoomMetadata) error {
	s.mu.Lock()
	s.cleanupExpiredLocked()
	s.metadata[roomName] = meta
	if _, ok := s.dispatched[roomName]; ok {
		s.mu.Unlock()
		s.logger.Debug("agent already dispatched", "room", roomName)
		return nil
	}
	s.dispatched[roomName] = time.Now()
	s.mu.Unlock()

	// The room may already have an agent from a previous dispatch the
	// cache no longer remembers.
	if s.hasAgentParticipant(ctx, roomName) {
		s.logger.Info("room already has an agent, skipping dispatch", "room", roomName)
		return nil
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		s.clearDispatchEntry(roomName)
		return fmt.Errorf("marshal dispatch metadata: %w", err)
	}

	if _, err := s.dispatch.CreateDispatch(ctx, &lkproto.CreateAgentDispatchRequest{
		AgentName: s.config.AgentName,
		Room:      roomName,
		Metadata:  string(payload),
	}); err != nil {
		s.clearDispatchEntry(roomName)
		return fmt.Errorf("dispatch agent to room %s: %w", roomName, err)
	}

	s.logger.Info("agent dispatched", "room", roomName, "deck", meta.DeckName)
	return nil
}

// ClearDispatch forgets a room, allowing a fresh dispatch. Called when
// the session ends.
func (s *Service) ClearDispatch(roomName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dispatched[roomName]
	delete(s.dispatched, roomName)
	delete(s.metadata, roomName)
	return ok
}

// PendingRoomMetadata returns what the token endpoint recorded for a
// room. The worker uses it to pick the deck when it joins.
func (s *Service) PendingRoomMetadata(roomName string) (RoomMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()
	meta, ok := s.metadata[roomName]
	return meta, ok
}

func (s *Service) hasAgentParticipant(ctx context.Context, roomName string) bool {
	resp, err := s.rooms.ListParticipants(ctx, &lkproto.ListParticipantsRequest{Room: roomName})
	if err != nil {
		// Room likely does not exist yet.
		s.logger.Debug("participant listing failed", "room", roomName, "error", err)
		return false
	}
	for _, p := range resp.GetParticipants() {
		if strings.HasPrefix(p.Identity, agentIdentityPrefix) {
			return true
		}
	}
	return false
}

func (s *Service) clearDispatchEntry(roomName string) {
	s.mu.Lock()
	delete(s.dispatched, roomName)
	s.mu.Unlock()
}

func (s *Service) cleanupExpiredLocked() {
	now := time.Now()
	for room, ts := range s.dispatched {
		if now.Sub(ts) > dispatchExpiry {
			delete(s.dispatched, room)
			delete(s.metadata, room)
		}
	}
}
