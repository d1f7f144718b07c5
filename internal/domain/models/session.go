package models

import (
	"fmt"
	"time"
)

// SessionState is the session lifecycle state.
//
//	IDLE -> SYNCING_START -> ACTIVE -> SYNCING_END -> COMPLETE
// Sync failures divert to DEGRADED, which may resume to ACTIVE or
// proceed to SYNCING_END.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionSyncingStart SessionState = "syncing_start"
	SessionActive       SessionState = "active"
	SessionDegraded     SessionState = "degraded"
	SessionSyncingEnd   SessionState = "syncing_end"
	SessionComplete     SessionState = "complete"
)

func (s SessionState) IsActive() bool {
	return s == SessionActive || s == SessionDegraded
}

func (s SessionState) CanAcceptRatings() bool {
	return s == SessionActive || s == SessionDegraded
}

func (s SessionState) IsTerminal() bool {
	return s == SessionComplete || s == SessionIdle
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionIdle:         {SessionSyncingStart},
	SessionSyncingStart: {SessionActive, SessionDegraded},
	SessionActive:       {SessionSyncingEnd, SessionDegraded},
	SessionDegraded:     {SessionActive, SessionSyncingEnd, SessionComplete},
	SessionSyncingEnd:   {SessionComplete, SessionDegraded},
	SessionComplete:     {},
}

// PendingRating is a rating waiting to be synced to the flashcard store.
// Once appended to a session it is never removed, only marked synced.
type PendingRating struct {
	CardID    int64     `json:"card_id"`
	Rating    Rating    `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
	Synced    bool      `json:"synced"`
}

// SessionStats summarizes a session for the client.
type SessionStats struct {
	CardsReviewed   int            `json:"cards_reviewed"`
	Ratings         map[string]int `json:"ratings"`
	SyncedCount     int            `json:"synced_count"`
	FailedCount     int            `json:"failed_count"`
	DurationMinutes int            `json:"duration_minutes"`
}

// Session owns the card queue and the pending ratings for one review run.
type Session struct {
	ID             string          `json:"id"`
	DeckName       string          `json:"deck_name"`
	State          SessionState    `json:"state"`
	Cards          []Card          `json:"cards"`
	CurrentIndex   int             `json:"current_index"`
	PendingRatings []PendingRating `json:"pending_ratings"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivity   time.Time       `json:"last_activity"`
}

// NewSession creates an active session over a copy of the given cards.
func NewSession(id, deckName string, cards []Card) *Session {
	now := time.Now().UTC()
	queue := make([]Card, len(cards))
	copy(queue, cards)
	return &Session{
		ID:           id,
		DeckName:     deckName,
		State:        SessionActive,
		Cards:        queue,
		StartedAt:    now,
		LastActivity: now,
	}
}

// CurrentCard returns the card at the queue head, or nil when empty.
func (s *Session) CurrentCard() *Card {
	if s.CurrentIndex >= len(s.Cards) {
		return nil
	}
	return &s.Cards[s.CurrentIndex]
}

func (s *Session) RemainingCount() int {
	return max(0, len(s.Cards)-s.CurrentIndex)
}

// RecordRating appends a pending rating for the current card and advances.
func (s *Session) RecordRating(r Rating) (*Card, error) {
	if !s.State.CanAcceptRatings() {
		return nil, fmt.Errorf("cannot record rating in state %s", s.State)
	}
	current := s.CurrentCard()
	if current == nil {
		return nil, fmt.Errorf("no card to rate: queue is empty")
	}
	s.PendingRatings = append(s.PendingRatings, PendingRating{
		CardID:    current.ID,
		Rating:    r,
		Timestamp: time.Now().UTC(),
	})
	s.CurrentIndex++
	s.Touch()
	return s.CurrentCard(), nil
}

// SkipCurrentCard moves the current card to the end of the queue.
func (s *Session) SkipCurrentCard() (*Card, error) {
	if !s.State.CanAcceptRatings() {
		return nil, fmt.Errorf("cannot skip card in state %s", s.State)
	}
	current := s.CurrentCard()
	if current == nil {
		return nil, fmt.Errorf("no card to skip: queue is empty")
	}
	skipped := *current
	s.Cards = append(s.Cards[:s.CurrentIndex], s.Cards[s.CurrentIndex+1:]...)
	s.Cards = append(s.Cards, skipped)
	s.Touch()
	return s.CurrentCard(), nil
}

func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}

func (s *Session) IsTimedOut(timeout time.Duration) bool {
	return time.Since(s.LastActivity) > timeout
}

func (s *Session) Stats() SessionStats {
	counts := map[string]int{"again": 0, "hard": 0, "good": 0, "easy": 0}
	synced := 0
	for _, pr := range s.PendingRatings {
		counts[pr.Rating.String()]++
		if pr.Synced {
			synced++
		}
	}
	return SessionStats{
		CardsReviewed:   len(s.PendingRatings),
		Ratings:         counts,
		SyncedCount:     synced,
		FailedCount:     len(s.PendingRatings) - synced,
		DurationMinutes: int(time.Since(s.StartedAt).Minutes()),
	}
}

// TransitionTo validates and applies a lifecycle transition.
func (s *Session) TransitionTo(next SessionState) error {
	for _, allowed := range sessionTransitions[s.State] {
		if allowed == next {
			s.State = next
			s.Touch()
			return nil
		}
	}
	return fmt.Errorf("invalid session transition from %s to %s", s.State, next)
}
