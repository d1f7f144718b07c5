package ports

import (
	"context"
	"time"

	"github.com/longregen/recite/internal/domain/models"
)

// PendingReview is a durable, not-yet-synced rating row.
type PendingReview struct {
	ID         int64
	CardID     int64
	Ease       int
	Timestamp  time.Time
	SessionID  string
	RetryCount int
	SyncedAt   *time.Time
}

// SessionRecord mirrors a session's lifecycle in durable storage so a
// crashed process can be detected and its ratings replayed.
type SessionRecord struct {
	ID            string
	DeckName      string
	State         string
	StartedAt     time.Time
	EndedAt       *time.Time
	CardsReviewed int
	RatingsSynced int
	RatingsFailed int
}

// ReviewStore is the crash-safe queue of unsynced ratings plus session
// history. All implementations serialize writes.
type ReviewStore interface {
	SaveReview(ctx context.Context, cardID int64, ease int, sessionID string) (int64, error)
	GetPendingReviews(ctx context.Context) ([]PendingReview, error)
	MarkSynced(ctx context.Context, reviewID int64) error
	IncrementRetry(ctx context.Context, reviewID int64) error
	// CleanupOldSynced deletes synced rows older than the retention window.
	CleanupOldSynced(ctx context.Context, retention time.Duration) (int64, error)
	// PurgeOldUnsynced drops unsynced rows past the retention window.
	PurgeOldUnsynced(ctx context.Context, retention time.Duration) (int64, error)

	SaveSession(ctx context.Context, rec SessionRecord) error
	EndSession(ctx context.Context, sessionID, state string, synced, failed int) error
	GetIncompleteSessions(ctx context.Context) ([]SessionRecord, error)
	// ResetStaleProcessing marks non-terminal sessions as crashed.
	ResetStaleProcessing(ctx context.Context) (int64, error)

	Close() error
}

// EventPublisher is the ordered, reliable server-to-client UI stream.
type EventPublisher interface {
	PublishCard(ctx context.Context, card models.Card, progress Progress, lastRating *models.Rating) error
	PublishRatingResult(ctx context.Context, rating models.Rating, feedback, cardBack, answerSummary string, progress Progress) error
	PublishRevealAnswer(ctx context.Context, cardBack string, progress Progress) error
	// PublishAgentMessage returns the message id; the text is deduplicated
	// against recent publishes.
	PublishAgentMessage(ctx context.Context, text string) (string, error)
	PublishUserTranscript(ctx context.Context, text, source string) error
	PublishSpeakingState(ctx context.Context, speaking bool) error
	PublishPTTState(ctx context.Context, recording bool) error
	PublishSessionComplete(ctx context.Context, stats models.SessionStats) error
	PublishError(ctx context.Context, message string) error
}

// Progress is the queue position shown to the client.
type Progress struct {
	CardsReviewed  int `json:"cards_reviewed"`
	CardsRemaining int `json:"cards_remaining"`
}
