package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/metrics"
	"github.com/longregen/recite/internal/ports"
)

// AllDecks is the pseudo-deck meaning every deck at once.
const AllDecks = "All"

// allDecksFetchLimit bounds concurrent per-deck card fetches.
const allDecksFetchLimit = 10

var (
	ErrSessionNotFound = errors.New("no active session")
	ErrSessionExpired  = errors.New("session has timed out due to inactivity")
	ErrNotCurrentCard  = errors.New("card is not the current card")
)

// SessionConflictError reports an attempt to start a second session
// while one is active.
type SessionConflictError struct {
	ExistingID string
	StartedAt  time.Time
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session %s already active", e.ExistingID)
}

// StartSessionResult is the outcome of StartSession.
type StartSessionResult struct {
	Session          *models.Session
	RecoveredRatings int
}

// EndSessionResult is the outcome of EndSession.
type EndSessionResult struct {
	SessionID string
	State     models.SessionState
	Stats     models.SessionStats
	Warning   string
}

// DegradedSyncWarning is surfaced to the client when some ratings
// could not be pushed at session end.
const DegradedSyncWarning = "Some ratings couldn't be synced. They'll be saved next time."

// SessionManager enforces the single-active-session rule and owns the
// session lifecycle: start, rating recording, end-of-session sync and
// crash recovery. Safe for concurrent use.
type SessionManager struct {
	flashcards ports.FlashcardService
	store      ports.ReviewStore
	sync       *SyncOrchestrator
	newID      func() string
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	active *models.Session
	// reviewIDs aligns with active.PendingRatings: the review store row
	// for each rating, 0 while the durable save is in flight.
	reviewIDs []int64
}

func NewSessionManager(
	flashcards ports.FlashcardService,
	store ports.ReviewStore,
	syncer *SyncOrchestrator,
	newID func() string,
	timeout time.Duration,
	logger *slog.Logger,
) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		flashcards: flashcards,
		store:      store,
		sync:       syncer,
		newID:      newID,
		timeout:    timeout,
		logger:     logger,
	}
}

// HasActiveSession reports whether a session is currently held.
func (m *SessionManager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// GetActiveSession returns the active session, touching its activity
// timestamp. An idled-out session is closed degraded and its slot
// freed before ErrSessionExpired is returned, so the next lookup or
// start finds a clean manager.
func (m *SessionManager) GetActiveSession(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()

	if m.active == nil {
		m.mu.Unlock()
		return nil, nil
	}
	if m.active.IsTimedOut(m.timeout) {
		stale := m.active
		staleIDs := m.reviewIDs
		m.active = nil
		m.reviewIDs = nil
		m.mu.Unlock()
		m.endTimedOutSession(ctx, stale, staleIDs)
		return nil, ErrSessionExpired
	}
	m.active.Touch()
	session := m.active
	m.mu.Unlock()
	return session, nil
}

// RestoreSession reconstructs the in-memory session from durable
// state. Used when the agent process attaches to a session the API
// process started.
func (m *SessionManager) RestoreSession(sessionID, deckName string, cards []models.Card) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := models.NewSession(sessionID, deckName, cards)
	m.active = session
	m.reviewIDs = nil
	return session
}

// StartSession begins a new review session over the given deck, or
// over every deck when deckName is AllDecks. A timed-out predecessor
// is ended silently; a live one raises SessionConflictError. Pending
// ratings from earlier crashes are replayed first, silently.
func (m *SessionManager) StartSession(ctx context.Context, deckName string) (*StartSessionResult, error) {
	m.mu.Lock()
	if m.active != nil {
		if m.active.IsTimedOut(m.timeout) {
			stale := m.active
			staleIDs := m.reviewIDs
			m.active = nil
			m.reviewIDs = nil
			m.mu.Unlock()
			m.endTimedOutSession(ctx, stale, staleIDs)
			m.mu.Lock()
		} else {
			conflict := &SessionConflictError{ExistingID: m.active.ID, StartedAt: m.active.StartedAt}
			m.mu.Unlock()
			return nil, conflict
		}
	}
	m.mu.Unlock()

	recovered := 0
	if m.sync != nil {
		result, err := m.sync.RecoverPendingRatings(ctx)
		if err != nil {
			m.logger.Warn("recovery replay failed", "error", err)
		}
		recovered = result.RecoveredCount
	}

	cards, err := m.fetchCards(ctx, deckName)
	if err != nil {
		return nil, err
	}

	session := models.NewSession(m.newID(), deckName, cards)

	if err := m.store.SaveSession(ctx, ports.SessionRecord{
		ID:        session.ID,
		DeckName:  session.DeckName,
		State:     string(session.State),
		StartedAt: session.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("persist session start: %w", err)
	}

	m.mu.Lock()
	m.active = session
	m.reviewIDs = nil
	m.mu.Unlock()

	metrics.SessionsStartedTotal.Inc()
	metrics.SessionsActive.Set(1)

	m.logger.Info("session started",
		"session_id", session.ID,
		"deck", deckName,
		"cards", len(cards),
		"recovered_ratings", recovered,
	)
	return &StartSessionResult{Session: session, RecoveredRatings: recovered}, nil
}

// FetchDeckCards loads the reviewable cards for a deck, or for every
// deck when deckName is AllDecks. Used by the agent when it attaches
// to a session another process started.
func (m *SessionManager) FetchDeckCards(ctx context.Context, deckName string) ([]models.Card, error) {
	return m.fetchCards(ctx, deckName)
}

func (m *SessionManager) fetchCards(ctx context.Context, deckName string) ([]models.Card, error) {
	if deckName != AllDecks {
		cards, err := m.flashcards.GetReviewableCards(ctx, deckName)
		if err != nil {
			return nil, fmt.Errorf("fetch cards for deck %q: %w", deckName, err)
		}
		return cards, nil
	}

	decks, err := m.flashcards.GetDecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}

	sem := semaphore.NewWeighted(allDecksFetchLimit)
	var (
		wg       sync.WaitGroup
		cardsMu  sync.Mutex
		allCards []models.Card
	)
	for _, deck := range decks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(deck string) {
			defer wg.Done()
			defer sem.Release(1)
			cards, err := m.flashcards.GetReviewableCards(ctx, deck)
			if err != nil {
				// A broken deck should not sink the whole session.
				m.logger.Warn("failed to fetch cards from deck", "deck", deck, "error", err)
				return
			}
			cardsMu.Lock()
			allCards = append(allCards, cards...)
			cardsMu.Unlock()
		}(deck)
	}
	wg.Wait()
	return allCards, nil
}

// RecordRating appends a pending rating for the given card and saves
// it durably before returning. The orchestrator owns card
// progression; the card only has to belong to the session.
func (m *SessionManager) RecordRating(ctx context.Context, sessionID string, cardID int64, rating models.Rating) error {
	m.mu.Lock()
	session, err := m.sessionLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	found := false
	for i := range session.Cards {
		if session.Cards[i].ID == cardID {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("card %d not found in session %s", cardID, sessionID)
	}

	idx := len(session.PendingRatings)
	session.PendingRatings = append(session.PendingRatings, models.PendingRating{
		CardID:    cardID,
		Rating:    rating,
		Timestamp: time.Now().UTC(),
	})
	m.reviewIDs = append(m.reviewIDs, 0)
	session.Touch()
	m.mu.Unlock()

	metrics.CardsReviewedTotal.WithLabelValues(rating.String()).Inc()

	reviewID, err := m.store.SaveReview(ctx, cardID, int(rating), sessionID)
	if err != nil {
		return fmt.Errorf("persist rating: %w", err)
	}

	m.mu.Lock()
	if m.active == session && idx < len(m.reviewIDs) {
		m.reviewIDs[idx] = reviewID
	}
	m.mu.Unlock()
	return nil
}

// RateCurrentCard records a rating for the card at the queue head and
// advances the queue, saving the rating durably before returning.
// cardID must name the queue head; a stale id is rejected so a slow
// client cannot rate the wrong card. REST counterpart of RecordRating,
// which leaves progression to the voice loop.
func (m *SessionManager) RateCurrentCard(ctx context.Context, sessionID string, cardID int64, rating models.Rating) (*models.Card, int, models.SessionState, error) {
	m.mu.Lock()
	session, err := m.sessionLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, 0, "", err
	}
	current := session.CurrentCard()
	if current == nil {
		m.mu.Unlock()
		return nil, 0, "", fmt.Errorf("no card to rate: queue is empty")
	}
	if current.ID != cardID {
		m.mu.Unlock()
		return nil, 0, "", fmt.Errorf("%w: %d", ErrNotCurrentCard, cardID)
	}

	idx := len(session.PendingRatings)
	next, err := session.RecordRating(rating)
	if err != nil {
		m.mu.Unlock()
		return nil, 0, "", err
	}
	m.reviewIDs = append(m.reviewIDs, 0)
	remaining := session.RemainingCount()
	state := session.State
	m.mu.Unlock()

	metrics.CardsReviewedTotal.WithLabelValues(rating.String()).Inc()

	reviewID, err := m.store.SaveReview(ctx, cardID, int(rating), sessionID)
	if err != nil {
		return nil, 0, "", fmt.Errorf("persist rating: %w", err)
	}

	m.mu.Lock()
	if m.active == session && idx < len(m.reviewIDs) {
		m.reviewIDs[idx] = reviewID
	}
	m.mu.Unlock()
	return next, remaining, state, nil
}

// SkipCard moves the current card to the end of the queue.
func (m *SessionManager) SkipCard(sessionID string, cardID int64) (*models.Card, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.sessionLocked(sessionID)
	if err != nil {
		return nil, 0, err
	}
	if current := session.CurrentCard(); current == nil || current.ID != cardID {
		return nil, 0, fmt.Errorf("%w: %d", ErrNotCurrentCard, cardID)
	}
	next, err := session.SkipCurrentCard()
	if err != nil {
		return nil, 0, err
	}
	return next, session.RemainingCount(), nil
}

// EndSession syncs pending ratings and closes the session. A sync
// failure degrades instead of erroring; the failed ratings stay parked
// for the next session's recovery pass.
func (m *SessionManager) EndSession(ctx context.Context, sessionID string) (*EndSessionResult, error) {
	return m.endSession(ctx, sessionID, false)
}

// EndSessionAbandoned closes a session the learner walked away from.
// The end state is degraded even when every rating syncs, so the
// history records that the session did not finish normally.
func (m *SessionManager) EndSessionAbandoned(ctx context.Context, sessionID string) (*EndSessionResult, error) {
	return m.endSession(ctx, sessionID, true)
}

func (m *SessionManager) endSession(ctx context.Context, sessionID string, abandoned bool) (*EndSessionResult, error) {
	m.mu.Lock()
	session := m.active
	if session == nil || session.ID != sessionID {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	reviewIDs := m.reviewIDs
	m.active = nil
	m.reviewIDs = nil
	m.mu.Unlock()

	// May already be degraded or syncing; that transition failure is fine.
	_ = session.TransitionTo(models.SessionSyncingEnd)

	ratings := make([]*models.PendingRating, 0, len(session.PendingRatings))
	for i := range session.PendingRatings {
		ratings = append(ratings, &session.PendingRatings[i])
	}
	syncResult := m.sync.SyncRatings(ctx, ratings, reviewIDs, session.ID)

	warning := ""
	switch {
	case syncResult.FailedCount > 0:
		session.State = models.SessionDegraded
		warning = DegradedSyncWarning
	case abandoned:
		session.State = models.SessionDegraded
	default:
		session.State = models.SessionComplete
	}

	stats := session.Stats()
	stats.SyncedCount = syncResult.SyncedCount
	stats.FailedCount = syncResult.FailedCount

	if err := m.store.EndSession(ctx, session.ID, string(session.State), syncResult.SyncedCount, syncResult.FailedCount); err != nil {
		m.logger.Error("failed to persist session end", "session_id", session.ID, "error", err)
	}

	metrics.SessionsEndedTotal.WithLabelValues(string(session.State)).Inc()
	metrics.SessionsActive.Set(0)

	m.logger.Info("session ended",
		"session_id", session.ID,
		"state", session.State,
		"synced", syncResult.SyncedCount,
		"failed", syncResult.FailedCount,
	)
	return &EndSessionResult{
		SessionID: session.ID,
		State:     session.State,
		Stats:     stats,
		Warning:   warning,
	}, nil
}

// ForceEndAll ends the active session if any, best effort. Used at
// shutdown and by the dev-only force-end endpoint.
func (m *SessionManager) ForceEndAll(ctx context.Context) int {
	m.mu.Lock()
	session := m.active
	m.mu.Unlock()
	if session == nil {
		return 0
	}

	if _, err := m.EndSession(ctx, session.ID); err != nil {
		m.logger.Warn("force end fell back to timed-out path", "session_id", session.ID, "error", err)
		m.mu.Lock()
		ids := m.reviewIDs
		m.active = nil
		m.reviewIDs = nil
		m.mu.Unlock()
		m.endTimedOutSession(ctx, session, ids)
	}
	return 1
}

func (m *SessionManager) sessionLocked(sessionID string) (*models.Session, error) {
	if m.active == nil {
		return nil, ErrSessionNotFound
	}
	if m.active.ID != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if m.active.IsTimedOut(m.timeout) {
		return nil, ErrSessionExpired
	}
	m.active.Touch()
	return m.active, nil
}

// endTimedOutSession closes a stale session, syncing what it can.
func (m *SessionManager) endTimedOutSession(ctx context.Context, session *models.Session, reviewIDs []int64) {
	session.State = models.SessionDegraded

	ratings := make([]*models.PendingRating, 0, len(session.PendingRatings))
	for i := range session.PendingRatings {
		ratings = append(ratings, &session.PendingRatings[i])
	}
	result := m.sync.SyncRatings(ctx, ratings, reviewIDs, session.ID)

	stats := session.Stats()
	if err := m.store.EndSession(ctx, session.ID, string(models.SessionDegraded), result.SyncedCount, result.FailedCount); err != nil {
		m.logger.Error("failed to persist timed-out session end", "session_id", session.ID, "error", err)
	}

	metrics.SessionsEndedTotal.WithLabelValues(string(models.SessionDegraded)).Inc()
	metrics.SessionsActive.Set(0)
	m.logger.Info("timed-out session ended silently",
		"session_id", session.ID,
		"cards_reviewed", stats.CardsReviewed,
		"synced", result.SyncedCount,
		"failed", result.FailedCount,
	)
}
