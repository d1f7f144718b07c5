package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/recite/internal/adapters/retry"
	"github.com/longregen/recite/internal/domain/models"
)

// fastBackoff keeps retry semantics without real sleeps.
func fastBackoff() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxRetries:      2,
		Multiplier:      2.0,
	}
}

func newTestSync(flashcards *mockFlashcards, store *mockReviewStore) *SyncOrchestrator {
	s := NewSyncOrchestrator(flashcards, store, testLogger())
	s.backoff = fastBackoff()
	return s
}

func TestSyncRatings_AllSynced(t *testing.T) {
	flashcards := newMockFlashcards()
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ratings := []*models.PendingRating{
		{CardID: 1, Rating: models.RatingGood},
		{CardID: 2, Rating: models.RatingEasy},
	}
	result := s.SyncRatings(context.Background(), ratings, nil, "sess_1")

	assert.Equal(t, 2, result.SyncedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.True(t, ratings[0].Synced)
	assert.True(t, ratings[1].Synced)
	assert.Len(t, flashcards.submittedReviews(), 2)
}

func TestSyncRatings_AlreadySyncedSkipped(t *testing.T) {
	flashcards := newMockFlashcards()
	s := newTestSync(flashcards, newMockReviewStore())

	ratings := []*models.PendingRating{{CardID: 1, Rating: models.RatingGood, Synced: true}}
	result := s.SyncRatings(context.Background(), ratings, nil, "sess_1")

	assert.Equal(t, 1, result.SyncedCount)
	assert.Empty(t, flashcards.submittedReviews(), "synced ratings are not resubmitted")
}

func TestSyncRatings_FailureParksForRecovery(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.submitErr = func(cardID int64) error {
		return errors.New("anki-connect: connection refused")
	}
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ratings := []*models.PendingRating{{CardID: 7, Rating: models.RatingHard}}
	result := s.SyncRatings(context.Background(), ratings, nil, "sess_1")

	assert.Equal(t, 0, result.SyncedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Len(t, result.Errors, 1)
	assert.False(t, ratings[0].Synced)
	assert.Equal(t, 1, store.unsyncedCount(), "failed rating parked in the review store")
}

func TestSyncRatings_TransientErrorRetried(t *testing.T) {
	attempts := 0
	flashcards := newMockFlashcards()
	flashcards.submitErr = func(cardID int64) error {
		attempts++
		if attempts == 1 {
			return errors.New("network timeout")
		}
		return nil
	}
	s := newTestSync(flashcards, newMockReviewStore())

	ratings := []*models.PendingRating{{CardID: 3, Rating: models.RatingGood}}
	result := s.SyncRatings(context.Background(), ratings, nil, "sess_1")

	assert.Equal(t, 1, result.SyncedCount)
	assert.Equal(t, 2, attempts)
}

func TestSyncRatings_ParkedRowMarkedSynced(t *testing.T) {
	flashcards := newMockFlashcards()
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ctx := context.Background()
	id, err := store.SaveReview(ctx, 4, int(models.RatingGood), "sess_1")
	require.NoError(t, err)

	ratings := []*models.PendingRating{{CardID: 4, Rating: models.RatingGood}}
	result := s.SyncRatings(ctx, ratings, []int64{id}, "sess_1")

	assert.Equal(t, 1, result.SyncedCount)
	assert.NotNil(t, store.reviews[id].SyncedAt, "durable row marked so recovery won't replay it")
}

func TestSyncRatings_ParkedRowFailureNotReparked(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.submitErr = func(cardID int64) error {
		return errors.New("connection reset")
	}
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ctx := context.Background()
	id, err := store.SaveReview(ctx, 4, int(models.RatingGood), "sess_1")
	require.NoError(t, err)

	ratings := []*models.PendingRating{{CardID: 4, Rating: models.RatingGood}}
	result := s.SyncRatings(ctx, ratings, []int64{id}, "sess_1")

	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, store.unsyncedCount(), "already-parked rating is not duplicated")
}

func TestRecoverPendingRatings(t *testing.T) {
	flashcards := newMockFlashcards()
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ctx := context.Background()
	goodID, err := store.SaveReview(ctx, 10, int(models.RatingGood), "old_sess")
	require.NoError(t, err)
	badID, err := store.SaveReview(ctx, 11, 9, "old_sess") // invalid ease
	require.NoError(t, err)

	result, err := s.RecoverPendingRatings(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecoveredCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.NotNil(t, store.reviews[goodID].SyncedAt)
	assert.Nil(t, store.reviews[badID].SyncedAt)

	submitted := flashcards.submittedReviews()
	require.Len(t, submitted, 1)
	assert.Equal(t, int64(10), submitted[0].cardID)
	assert.Equal(t, models.RatingGood, submitted[0].rating)
}

func TestRecoverPendingRatings_FailureBumpsRetryCount(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.submitErr = func(cardID int64) error {
		return errors.New("service unavailable")
	}
	store := newMockReviewStore()
	s := newTestSync(flashcards, store)

	ctx := context.Background()
	id, err := store.SaveReview(ctx, 5, int(models.RatingAgain), "old_sess")
	require.NoError(t, err)

	result, err := s.RecoverPendingRatings(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, result.RecoveredCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, store.reviews[id].RetryCount)
	assert.Nil(t, store.reviews[id].SyncedAt)
}

func TestRecoverPendingRatings_NothingPending(t *testing.T) {
	s := newTestSync(newMockFlashcards(), newMockReviewStore())

	result, err := s.RecoverPendingRatings(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.RecoveredCount)
}

func TestPurgeOldRatings(t *testing.T) {
	store := newMockReviewStore()
	s := newTestSync(newMockFlashcards(), store)

	ctx := context.Background()
	id, err := store.SaveReview(ctx, 1, int(models.RatingGood), "sess")
	require.NoError(t, err)
	store.reviews[id].Timestamp = time.Now().Add(-PurgeRetention - time.Hour)

	purged, err := s.PurgeOldRatings(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 0, store.unsyncedCount())
}
