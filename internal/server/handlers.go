package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/recite/internal/adapters/livekit"
	"github.com/longregen/recite/internal/application/services"
	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/usage"
)

// SessionService is the slice of the session manager the HTTP layer
// needs.
type SessionService interface {
	StartSession(ctx context.Context, deckName string) (*services.StartSessionResult, error)
	EndSession(ctx context.Context, sessionID string) (*services.EndSessionResult, error)
	GetActiveSession(ctx context.Context) (*models.Session, error)
	RateCurrentCard(ctx context.Context, sessionID string, cardID int64, rating models.Rating) (*models.Card, int, models.SessionState, error)
	SkipCard(sessionID string, cardID int64) (*models.Card, int, error)
	ForceEndAll(ctx context.Context) int
}

// DeckService covers deck listing and media access.
type DeckService interface {
	GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error)
	GetCardImage(ctx context.Context, filename string) ([]byte, string, error)
}

// RTCService issues room tokens and dispatches the voice agent. Nil
// when LiveKit is not configured.
type RTCService interface {
	URL() string
	GenerateToken(roomName, identity string) (string, int64, error)
	EnsureAgentDispatched(ctx context.Context, roomName string, meta livekit.RoomMetadata) error
}

// UsageSource reports accumulated API usage.
type UsageSource interface {
	Summarize() (usage.Summary, error)
}

type Handlers struct {
	sessions    SessionService
	decks       DeckService
	rtc         RTCService
	usage       UsageSource
	environment string
	logger      *slog.Logger
}

func NewHandlers(sessions SessionService, decks DeckService, rtc RTCService, usageSrc UsageSource, environment string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:    sessions,
		decks:       decks,
		rtc:         rtc,
		usage:       usageSrc,
		environment: environment,
		logger:      logger,
	}
}

type startSessionRequest struct {
	DeckName string `json:"deck_name"`
}

type startSessionResponse struct {
	SessionID        string         `json:"session_id"`
	DeckName         string         `json:"deck_name"`
	State            string         `json:"state"`
	DueCount         int            `json:"due_count"`
	Cards            []cardResponse `json:"cards"`
	RecoveredRatings int            `json:"recovered_ratings"`
}

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.DeckName == "" {
		req.DeckName = services.AllDecks
	}

	result, err := h.sessions.StartSession(r.Context(), req.DeckName)
	if err != nil {
		var conflict *services.SessionConflictError
		if errors.As(err, &conflict) {
			respondErrorDetails(w, http.StatusConflict, codeSessionConflict,
				"A session is already active. End it before starting a new one.",
				map[string]any{
					"existing_session_id": conflict.ExistingID,
					"started_at":          conflict.StartedAt.UTC().Format(time.RFC3339),
				})
			return
		}
		h.logger.Error("start session failed", "deck", req.DeckName, "error", err)
		respondError(w, http.StatusServiceUnavailable, codeAnkiUnavailable,
			"The flashcard backend is unreachable. Is Anki running?")
		return
	}

	session := result.Session
	cards := make([]cardResponse, 0, len(session.Cards))
	for i := range session.Cards {
		cards = append(cards, *toCardResponse(&session.Cards[i]))
	}
	respondJSON(w, startSessionResponse{
		SessionID:        session.ID,
		DeckName:         session.DeckName,
		State:            string(session.State),
		DueCount:         len(session.Cards),
		Cards:            cards,
		RecoveredRatings: result.RecoveredRatings,
	}, http.StatusOK)
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
}

type endSessionResponse struct {
	SessionID string              `json:"session_id"`
	State     string              `json:"state"`
	Stats     models.SessionStats `json:"stats"`
	Warning   string              `json:"warning,omitempty"`
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "session_id is required")
		return
	}

	result, err := h.sessions.EndSession(r.Context(), req.SessionID)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	respondJSON(w, endSessionResponse{
		SessionID: result.SessionID,
		State:     string(result.State),
		Stats:     result.Stats,
		Warning:   result.Warning,
	}, http.StatusOK)
}

type currentSessionResponse struct {
	SessionID      string        `json:"session_id"`
	DeckName       string        `json:"deck_name"`
	State          string        `json:"state"`
	CurrentCard    *cardResponse `json:"current_card"`
	RemainingCount int           `json:"remaining_count"`
	CardsReviewed  int           `json:"cards_reviewed"`
}

func (h *Handlers) CurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetActiveSession(r.Context())
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, codeSessionNotFound, "no active session")
		return
	}
	respondJSON(w, currentSessionResponse{
		SessionID:      session.ID,
		DeckName:       session.DeckName,
		State:          string(session.State),
		CurrentCard:    toCardResponse(session.CurrentCard()),
		RemainingCount: session.RemainingCount(),
		CardsReviewed:  len(session.PendingRatings),
	}, http.StatusOK)
}

// HeadCurrentSession is the cheap liveness probe the UI polls: 204
// when a session is active, 404 otherwise, never a body.
func (h *Handlers) HeadCurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetActiveSession(r.Context())
	if err != nil || session == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forceEndResponse struct {
	EndedSessions int    `json:"ended_sessions"`
	Message       string `json:"message"`
}

// ForceEndSessions is a development escape hatch; refused in
// production.
func (h *Handlers) ForceEndSessions(w http.ResponseWriter, r *http.Request) {
	if h.environment == "production" {
		respondError(w, http.StatusForbidden, codeForbidden, "force-end is disabled in production")
		return
	}
	ended := h.sessions.ForceEndAll(r.Context())
	respondJSON(w, forceEndResponse{
		EndedSessions: ended,
		Message:       "all sessions ended",
	}, http.StatusOK)
}

type deckResponse struct {
	Name       string `json:"name"`
	NewCount   int    `json:"new_count"`
	LearnCount int    `json:"learn_count"`
	DueCount   int    `json:"due_count"`
	TotalCount int    `json:"total_count"`
}

type listDecksResponse struct {
	Decks []deckResponse `json:"decks"`
}

func (h *Handlers) ListDecks(w http.ResponseWriter, r *http.Request) {
	stats, err := h.decks.GetDecksWithCardCounts(r.Context())
	if err != nil {
		h.logger.Error("list decks failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, codeAnkiUnavailable,
			"The flashcard backend is unreachable. Is Anki running?")
		return
	}
	decks := make([]deckResponse, 0, len(stats))
	for _, d := range stats {
		decks = append(decks, deckResponse{
			Name:       d.Name,
			NewCount:   d.NewCount,
			LearnCount: d.LearnCount,
			DueCount:   d.DueCount,
			TotalCount: d.TotalCount(),
		})
	}
	respondJSON(w, listDecksResponse{Decks: decks}, http.StatusOK)
}

type rateCardRequest struct {
	SessionID string `json:"session_id"`
	Rating    int    `json:"rating"`
}

type rateCardResponse struct {
	Success        bool          `json:"success"`
	NextCard       *cardResponse `json:"next_card"`
	RemainingCount int           `json:"remaining_count"`
	SessionState   string        `json:"session_state"`
}

func (h *Handlers) RateCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid card id")
		return
	}

	var req rateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "session_id is required")
		return
	}
	rating := models.Rating(req.Rating)
	if !rating.Valid() {
		respondError(w, http.StatusBadRequest, codeInvalidRating, "rating must be between 1 (again) and 4 (easy)")
		return
	}

	next, remaining, state, err := h.sessions.RateCurrentCard(r.Context(), req.SessionID, cardID, rating)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	respondJSON(w, rateCardResponse{
		Success:        true,
		NextCard:       toCardResponse(next),
		RemainingCount: remaining,
		SessionState:   string(state),
	}, http.StatusOK)
}

type skipCardRequest struct {
	SessionID string `json:"session_id"`
}

type skipCardResponse struct {
	Success        bool          `json:"success"`
	NextCard       *cardResponse `json:"next_card"`
	RemainingCount int           `json:"remaining_count"`
}

func (h *Handlers) SkipCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid card id")
		return
	}

	var req skipCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "session_id is required")
		return
	}

	next, remaining, err := h.sessions.SkipCard(req.SessionID, cardID)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	respondJSON(w, skipCardResponse{
		Success:        true,
		NextCard:       toCardResponse(next),
		RemainingCount: remaining,
	}, http.StatusOK)
}

// CardImage proxies a card's media file so the browser never needs
// direct access to the flashcard backend.
func (h *Handlers) CardImage(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid card id")
		return
	}

	session, err := h.sessions.GetActiveSession(r.Context())
	if err != nil || session == nil {
		respondError(w, http.StatusNotFound, codeImageNotFound, "no image for this card")
		return
	}
	var card *models.Card
	for i := range session.Cards {
		if session.Cards[i].ID == cardID {
			card = &session.Cards[i]
			break
		}
	}
	if card == nil || !card.HasImage() {
		respondError(w, http.StatusNotFound, codeImageNotFound, "no image for this card")
		return
	}

	data, mimeType, err := h.decks.GetCardImage(r.Context(), card.ImageFilename)
	if err != nil {
		h.logger.Warn("card image fetch failed", "card_id", cardID, "error", err)
		respondError(w, http.StatusNotFound, codeImageNotFound, "no image for this card")
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type livekitTokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
	DeckName        string `json:"deck_name"`
	InputMode       string `json:"input_mode"`
}

type livekitTokenResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	RoomName  string `json:"room_name"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *Handlers) LiveKitToken(w http.ResponseWriter, r *http.Request) {
	if h.rtc == nil {
		respondError(w, http.StatusServiceUnavailable, codeLiveKitNotConfigured, "LiveKit is not configured")
		return
	}

	var req livekitTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.ParticipantName == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "participant_name is required")
		return
	}

	roomName := req.RoomName
	if roomName == "" {
		session, err := h.sessions.GetActiveSession(r.Context())
		if err != nil || session == nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "room_name is required when no session is active")
			return
		}
		roomName = livekit.SessionRoomName(session.ID)
		if req.DeckName == "" {
			req.DeckName = session.DeckName
		}
	}

	token, expiresAt, err := h.rtc.GenerateToken(roomName, req.ParticipantName)
	if err != nil {
		h.logger.Error("token generation failed", "room", roomName, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "could not generate token")
		return
	}

	// Dispatch is best effort: the agent worker also discovers rooms by
	// polling.
	if err := h.rtc.EnsureAgentDispatched(r.Context(), roomName, livekit.RoomMetadata{
		DeckName:  req.DeckName,
		InputMode: req.InputMode,
	}); err != nil {
		h.logger.Warn("agent dispatch failed", "room", roomName, "error", err)
	}

	respondJSON(w, livekitTokenResponse{
		Token:     token,
		URL:       h.rtc.URL(),
		RoomName:  roomName,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

func (h *Handlers) UsageSummary(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		respondJSON(w, usage.Summary{}, http.StatusOK)
		return
	}
	summary, err := h.usage.Summarize()
	if err != nil {
		h.logger.Error("usage summary failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "could not read usage log")
		return
	}
	respondJSON(w, summary, http.StatusOK)
}

type healthResponse struct {
	Status        string `json:"status"`
	ActiveSession bool   `json:"active_session"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.GetActiveSession(r.Context())
	respondJSON(w, healthResponse{Status: "ok", ActiveSession: session != nil}, http.StatusOK)
}

func (h *Handlers) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionExpired):
		respondError(w, http.StatusUnauthorized, codeSessionExpired, "session has expired due to inactivity")
	case errors.Is(err, services.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, codeSessionNotFound, "no active session")
	case errors.Is(err, services.ErrNotCurrentCard):
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "that card is not the current card")
	default:
		h.logger.Error("session operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
