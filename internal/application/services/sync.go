package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/longregen/recite/internal/adapters/retry"
	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/metrics"
	"github.com/longregen/recite/internal/ports"
)

// PurgeRetention is how long unsynced ratings are kept before purge.
const PurgeRetention = 7 * 24 * time.Hour

// SyncResult summarizes one batch push.
type SyncResult struct {
	SyncedCount int
	FailedCount int
	Errors      []string
}

// RecoveryResult summarizes a recovery replay.
type RecoveryResult struct {
	RecoveredCount int
	FailedCount    int
}

// SyncOrchestrator pushes ratings to the flashcard backend with
// retries and degrades gracefully: a rating that cannot be synced is
// parked in the review store and replayed at the next session start.
type SyncOrchestrator struct {
	flashcards ports.FlashcardService
	store      ports.ReviewStore
	backoff    retry.BackoffConfig
	logger     *slog.Logger
}

func NewSyncOrchestrator(flashcards ports.FlashcardService, store ports.ReviewStore, logger *slog.Logger) *SyncOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncOrchestrator{
		flashcards: flashcards,
		store:      store,
		backoff:    retry.SyncConfig(),
		logger:     logger,
	}
}

// SyncRatings pushes a batch. Ratings already parked durably carry
// their review store id in reviewIDs (0 when not parked): synced rows
// get marked so recovery never replays them, failed unparked ratings
// are saved for later replay. The caller decides whether the session
// ends degraded.
func (s *SyncOrchestrator) SyncRatings(ctx context.Context, ratings []*models.PendingRating, reviewIDs []int64, sessionID string) SyncResult {
	var result SyncResult

	for i, rating := range ratings {
		var reviewID int64
		if i < len(reviewIDs) {
			reviewID = reviewIDs[i]
		}

		if rating.Synced {
			result.SyncedCount++
			continue
		}

		err := retry.WithBackoff(ctx, s.backoff, func() error {
			return s.flashcards.SubmitReview(ctx, rating.CardID, rating.Rating)
		})
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("card %d: %v", rating.CardID, err))
			metrics.RatingSyncFailuresTotal.Inc()
			s.logger.Warn("failed to sync rating", "card_id", rating.CardID, "error", err)

			if reviewID == 0 {
				if _, saveErr := s.store.SaveReview(ctx, rating.CardID, int(rating.Rating), sessionID); saveErr != nil {
					s.logger.Error("failed to park rating for recovery", "card_id", rating.CardID, "error", saveErr)
				}
			}
			continue
		}

		rating.Synced = true
		result.SyncedCount++
		if reviewID != 0 {
			if err := s.store.MarkSynced(ctx, reviewID); err != nil {
				s.logger.Error("failed to mark parked rating synced", "review_id", reviewID, "error", err)
			}
		}
		s.logger.Debug("synced rating", "card_id", rating.CardID)
	}

	return result
}

// RecoverPendingRatings replays ratings parked by earlier sessions.
// Recovery is silent; the learner is never told about it.
func (s *SyncOrchestrator) RecoverPendingRatings(ctx context.Context) (RecoveryResult, error) {
	pending, err := s.store.GetPendingReviews(ctx)
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("load pending reviews: %w", err)
	}
	if len(pending) == 0 {
		return RecoveryResult{}, nil
	}

	s.logger.Info("recovering pending ratings", "count", len(pending))

	var result RecoveryResult
	for _, review := range pending {
		rating, err := models.ParseRating(review.Ease)
		if err != nil {
			s.logger.Warn("skipping review with invalid ease", "review_id", review.ID, "ease", review.Ease)
			result.FailedCount++
			continue
		}

		err = retry.WithBackoff(ctx, s.backoff, func() error {
			return s.flashcards.SubmitReview(ctx, review.CardID, rating)
		})
		if err != nil {
			result.FailedCount++
			if retryErr := s.store.IncrementRetry(ctx, review.ID); retryErr != nil {
				s.logger.Error("failed to bump retry count", "review_id", review.ID, "error", retryErr)
			}
			s.logger.Warn("recovery failed for review", "review_id", review.ID, "error", err)
			continue
		}

		if err := s.store.MarkSynced(ctx, review.ID); err != nil {
			s.logger.Error("failed to mark review synced", "review_id", review.ID, "error", err)
		}
		result.RecoveredCount++
	}

	metrics.RecoveredReviewsTotal.Add(float64(result.RecoveredCount))
	s.logger.Info("recovery complete", "recovered", result.RecoveredCount, "failed", result.FailedCount)
	return result, nil
}

// PurgeOldRatings drops unsynced ratings past the retention window.
func (s *SyncOrchestrator) PurgeOldRatings(ctx context.Context) (int64, error) {
	purged, err := s.store.PurgeOldUnsynced(ctx, PurgeRetention)
	if err != nil {
		return 0, fmt.Errorf("purge old unsynced: %w", err)
	}
	if purged > 0 {
		s.logger.Warn("purged unsyncable ratings past retention",
			"count", purged, "retention", PurgeRetention.String())
	}
	return purged, nil
}
