package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/recite/internal/domain/models"
)

func testCards(ids ...int64) []models.Card {
	cards := make([]models.Card, 0, len(ids))
	for _, id := range ids {
		cards = append(cards, models.Card{
			ID:       id,
			DeckName: "Biology",
			Front:    fmt.Sprintf("Question %d", id),
			Back:     fmt.Sprintf("Answer %d", id),
		})
	}
	return cards
}

func newTestManager(flashcards *mockFlashcards, store *mockReviewStore) *SessionManager {
	counter := 0
	newID := func() string {
		counter++
		return fmt.Sprintf("sess_test%d", counter)
	}
	syncer := newTestSync(flashcards, store)
	return NewSessionManager(flashcards, store, syncer, newID, 30*time.Minute, testLogger())
}

func TestStartSession(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1, 2, 3)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)

	result, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	assert.Equal(t, "sess_test1", result.Session.ID)
	assert.Equal(t, models.SessionActive, result.Session.State)
	assert.Len(t, result.Session.Cards, 3)
	assert.Equal(t, 0, result.RecoveredRatings)
	assert.True(t, m.HasActiveSession())

	rec, ok := store.sessions["sess_test1"]
	require.True(t, ok, "session start persisted")
	assert.Equal(t, "Biology", rec.DeckName)
}

func TestStartSession_Conflict(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	m := newTestManager(flashcards, newMockReviewStore())

	first, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	_, err = m.StartSession(context.Background(), "Biology")

	var conflict *SessionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.Session.ID, conflict.ExistingID)
}

func TestStartSession_TimedOutPredecessorEndedSilently(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1, 2)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)

	first, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)
	first.Session.LastActivity = time.Now().UTC().Add(-time.Hour)

	second, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	rec := store.sessions[first.Session.ID]
	require.NotNil(t, rec)
	assert.Equal(t, string(models.SessionDegraded), rec.State)
	assert.NotNil(t, rec.EndedAt)
}

func TestStartSession_ReplaysPendingRatings(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	store := newMockReviewStore()
	_, err := store.SaveReview(context.Background(), 99, int(models.RatingGood), "crashed_sess")
	require.NoError(t, err)
	m := newTestManager(flashcards, store)

	result, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecoveredRatings)
	submitted := flashcards.submittedReviews()
	require.Len(t, submitted, 1)
	assert.Equal(t, int64(99), submitted[0].cardID)
}

func TestStartSession_AllDecksAggregates(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.decks = []string{"Biology", "Chemistry", "Broken"}
	flashcards.cardsByDeck["Biology"] = testCards(1, 2)
	flashcards.cardsByDeck["Chemistry"] = testCards(3)
	flashcards.deckErr = map[string]error{"Broken": errors.New("deck unavailable")}
	m := newTestManager(flashcards, newMockReviewStore())

	result, err := m.StartSession(context.Background(), AllDecks)
	require.NoError(t, err)

	assert.Len(t, result.Session.Cards, 3, "broken deck skipped, others aggregated")
}

func TestGetActiveSession(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)
	ctx := context.Background()

	session, err := m.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session, "no session yet")

	started, err := m.StartSession(ctx, "Biology")
	require.NoError(t, err)

	session, err = m.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, started.Session.ID, session.ID)
}

func TestGetActiveSession_ExpiredEndsDegraded(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)
	ctx := context.Background()

	started, err := m.StartSession(ctx, "Biology")
	require.NoError(t, err)
	require.NoError(t, m.RecordRating(ctx, started.Session.ID, 1, models.RatingGood))

	started.Session.LastActivity = time.Now().UTC().Add(-time.Hour)
	_, err = m.GetActiveSession(ctx)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The idled-out session is closed for good, not left dangling.
	assert.False(t, m.HasActiveSession())
	rec := store.sessions[started.Session.ID]
	require.NotNil(t, rec)
	assert.Equal(t, string(models.SessionDegraded), rec.State)
	assert.NotNil(t, rec.EndedAt)

	session, err := m.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session, "slot freed after the expired close")
}

func TestEndSessionAbandoned_DegradedDespiteCleanSync(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)
	ctx := context.Background()

	started, err := m.StartSession(ctx, "Biology")
	require.NoError(t, err)
	require.NoError(t, m.RecordRating(ctx, started.Session.ID, 1, models.RatingGood))

	result, err := m.EndSessionAbandoned(ctx, started.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionDegraded, result.State)
	assert.Equal(t, 1, result.Stats.SyncedCount)
	assert.Equal(t, 0, result.Stats.FailedCount)
	assert.False(t, m.HasActiveSession())
	assert.Equal(t, string(models.SessionDegraded), store.sessions[started.Session.ID].State)
}

func TestRecordRating(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1, 2)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)

	result, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	err = m.RecordRating(context.Background(), result.Session.ID, 2, models.RatingGood)
	require.NoError(t, err)

	require.Len(t, result.Session.PendingRatings, 1)
	assert.Equal(t, int64(2), result.Session.PendingRatings[0].CardID)
	assert.Equal(t, 1, store.unsyncedCount(), "rating saved durably before sync")
}

func TestRecordRating_UnknownCard(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	m := newTestManager(flashcards, newMockReviewStore())

	result, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	err = m.RecordRating(context.Background(), result.Session.ID, 42, models.RatingGood)
	assert.Error(t, err)
}

func TestRecordRating_NoSession(t *testing.T) {
	m := newTestManager(newMockFlashcards(), newMockReviewStore())

	err := m.RecordRating(context.Background(), "sess_missing", 1, models.RatingGood)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSession_Complete(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1, 2)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)

	started, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)
	require.NoError(t, m.RecordRating(context.Background(), started.Session.ID, 1, models.RatingGood))
	require.NoError(t, m.RecordRating(context.Background(), started.Session.ID, 2, models.RatingEasy))

	result, err := m.EndSession(context.Background(), started.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionComplete, result.State)
	assert.Empty(t, result.Warning)
	assert.Equal(t, 2, result.Stats.SyncedCount)
	assert.Equal(t, 0, result.Stats.FailedCount)
	assert.False(t, m.HasActiveSession())

	rec := store.sessions[started.Session.ID]
	require.NotNil(t, rec)
	assert.Equal(t, string(models.SessionComplete), rec.State)
	assert.Equal(t, 0, store.unsyncedCount(), "durable rows marked synced, nothing to recover")
}

func TestEndSession_DegradedOnSyncFailure(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	store := newMockReviewStore()
	m := newTestManager(flashcards, store)

	started, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)
	require.NoError(t, m.RecordRating(context.Background(), started.Session.ID, 1, models.RatingGood))

	flashcards.submitErr = func(cardID int64) error {
		return errors.New("anki-connect: connection refused")
	}

	result, err := m.EndSession(context.Background(), started.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionDegraded, result.State)
	assert.Equal(t, DegradedSyncWarning, result.Warning)
	assert.Equal(t, 1, result.Stats.FailedCount)
}

func TestEndSession_Unknown(t *testing.T) {
	m := newTestManager(newMockFlashcards(), newMockReviewStore())

	_, err := m.EndSession(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestForceEndAll(t *testing.T) {
	flashcards := newMockFlashcards()
	flashcards.cardsByDeck["Biology"] = testCards(1)
	m := newTestManager(flashcards, newMockReviewStore())

	assert.Equal(t, 0, m.ForceEndAll(context.Background()))

	_, err := m.StartSession(context.Background(), "Biology")
	require.NoError(t, err)

	assert.Equal(t, 1, m.ForceEndAll(context.Background()))
	assert.False(t, m.HasActiveSession())
}
