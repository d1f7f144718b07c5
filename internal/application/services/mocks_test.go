package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// mockLLM implements ports.LLMService with per-call overrides.
type mockLLM struct {
	evaluateFunc func(ctx context.Context, req ports.EvaluationRequest) (models.EvaluationResult, error)
	hintFunc     func(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error)
	explainFunc  func(ctx context.Context, question, answer string) (string, error)
	answerFunc   func(ctx context.Context, req ports.QuestionRequest) (string, error)
	mnemonicFunc func(ctx context.Context, front, back string) (string, error)
}

func (m *mockLLM) EvaluateAnswer(ctx context.Context, req ports.EvaluationRequest) (models.EvaluationResult, error) {
	if m.evaluateFunc != nil {
		return m.evaluateFunc(ctx, req)
	}
	return models.EvaluationResult{
		Reasoning:    "answer matches",
		IsCorrect:    true,
		FluencyScore: 3,
		Rating:       models.RatingGood,
		Feedback:     models.FeedbackRatingGood,
	}, nil
}

func (m *mockLLM) GenerateHint(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
	if m.hintFunc != nil {
		return m.hintFunc(ctx, req)
	}
	return ports.HintResponse{Hint: "Think about what happens first.", HintType: "contextual"}, nil
}

func (m *mockLLM) ExplainAnswer(ctx context.Context, question, answer string) (string, error) {
	if m.explainFunc != nil {
		return m.explainFunc(ctx, question, answer)
	}
	return "This matters because it underpins the whole process.", nil
}

func (m *mockLLM) AnswerQuestion(ctx context.Context, req ports.QuestionRequest) (string, error) {
	if m.answerFunc != nil {
		return m.answerFunc(ctx, req)
	}
	return "Good question. It works this way because of the underlying rule.", nil
}

func (m *mockLLM) GenerateMnemonic(ctx context.Context, front, back string) (string, error) {
	if m.mnemonicFunc != nil {
		return m.mnemonicFunc(ctx, front, back)
	}
	return "Picture a bright red anchor to remember this.", nil
}

type submittedReview struct {
	cardID int64
	rating models.Rating
}

// mockFlashcards implements ports.FlashcardService over fixed decks.
type mockFlashcards struct {
	mu          sync.Mutex
	decks       []string
	cardsByDeck map[string][]models.Card
	deckErr     map[string]error
	decksErr    error
	submitErr   func(cardID int64) error
	submitted   []submittedReview
}

func newMockFlashcards() *mockFlashcards {
	return &mockFlashcards{cardsByDeck: map[string][]models.Card{}}
}

func (m *mockFlashcards) GetDecks(ctx context.Context) ([]string, error) {
	if m.decksErr != nil {
		return nil, m.decksErr
	}
	return m.decks, nil
}

func (m *mockFlashcards) GetReviewableCards(ctx context.Context, deckName string) ([]models.Card, error) {
	if err := m.deckErr[deckName]; err != nil {
		return nil, err
	}
	return m.cardsByDeck[deckName], nil
}

func (m *mockFlashcards) SubmitReview(ctx context.Context, cardID int64, rating models.Rating) error {
	if m.submitErr != nil {
		if err := m.submitErr(cardID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, submittedReview{cardID: cardID, rating: rating})
	return nil
}

func (m *mockFlashcards) submittedReviews() []submittedReview {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submittedReview(nil), m.submitted...)
}

func (m *mockFlashcards) GetCardImage(ctx context.Context, filename string) ([]byte, string, error) {
	return nil, "", nil
}

func (m *mockFlashcards) GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error) {
	stats := make([]models.DeckStats, 0, len(m.decks))
	for _, d := range m.decks {
		stats = append(stats, models.DeckStats{Name: d, DueCount: len(m.cardsByDeck[d])})
	}
	return stats, nil
}

// mockReviewStore is an in-memory ports.ReviewStore.
type mockReviewStore struct {
	mu       sync.Mutex
	nextID   int64
	reviews  map[int64]*ports.PendingReview
	sessions map[string]*ports.SessionRecord
	saveErr  error
}

func newMockReviewStore() *mockReviewStore {
	return &mockReviewStore{
		reviews:  map[int64]*ports.PendingReview{},
		sessions: map[string]*ports.SessionRecord{},
	}
}

func (m *mockReviewStore) SaveReview(ctx context.Context, cardID int64, ease int, sessionID string) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.reviews[m.nextID] = &ports.PendingReview{
		ID:        m.nextID,
		CardID:    cardID,
		Ease:      ease,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	}
	return m.nextID, nil
}

func (m *mockReviewStore) GetPendingReviews(ctx context.Context) ([]ports.PendingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []ports.PendingReview
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.reviews[id]; ok && r.SyncedAt == nil {
			pending = append(pending, *r)
		}
	}
	return pending, nil
}

func (m *mockReviewStore) MarkSynced(ctx context.Context, reviewID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviews[reviewID]; ok {
		now := time.Now().UTC()
		r.SyncedAt = &now
	}
	return nil
}

func (m *mockReviewStore) IncrementRetry(ctx context.Context, reviewID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviews[reviewID]; ok {
		r.RetryCount++
	}
	return nil
}

func (m *mockReviewStore) CleanupOldSynced(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockReviewStore) PurgeOldUnsynced(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	var purged int64
	for id, r := range m.reviews {
		if r.SyncedAt == nil && r.Timestamp.Before(cutoff) {
			delete(m.reviews, id)
			purged++
		}
	}
	return purged, nil
}

func (m *mockReviewStore) SaveSession(ctx context.Context, rec ports.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = &rec
	return nil
}

func (m *mockReviewStore) EndSession(ctx context.Context, sessionID, state string, synced, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[sessionID]; ok {
		now := time.Now().UTC()
		rec.State = state
		rec.EndedAt = &now
		rec.RatingsSynced = synced
		rec.RatingsFailed = failed
	}
	return nil
}

func (m *mockReviewStore) GetIncompleteSessions(ctx context.Context) ([]ports.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.SessionRecord
	for _, rec := range m.sessions {
		if rec.EndedAt == nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *mockReviewStore) ResetStaleProcessing(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockReviewStore) Close() error { return nil }

func (m *mockReviewStore) unsyncedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.reviews {
		if r.SyncedAt == nil {
			n++
		}
	}
	return n
}
