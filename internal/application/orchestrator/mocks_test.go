package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/recite/internal/application/services"
	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

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
		Reasoning:    "matches expected answer",
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
	return ports.HintResponse{Hint: "Think about the first step.", HintType: "contextual"}, nil
}

func (m *mockLLM) ExplainAnswer(ctx context.Context, question, answer string) (string, error) {
	if m.explainFunc != nil {
		return m.explainFunc(ctx, question, answer)
	}
	return "It matters because everything builds on it.", nil
}

func (m *mockLLM) AnswerQuestion(ctx context.Context, req ports.QuestionRequest) (string, error) {
	if m.answerFunc != nil {
		return m.answerFunc(ctx, req)
	}
	return "It works this way because of the underlying rule.", nil
}

func (m *mockLLM) GenerateMnemonic(ctx context.Context, front, back string) (string, error) {
	if m.mnemonicFunc != nil {
		return m.mnemonicFunc(ctx, front, back)
	}
	return "Picture a giant glowing map pin.", nil
}

type mockFlashcards struct {
	mu          sync.Mutex
	cardsByDeck map[string][]models.Card
	submitted   []int64
}

func (m *mockFlashcards) GetDecks(ctx context.Context) ([]string, error) {
	decks := make([]string, 0, len(m.cardsByDeck))
	for d := range m.cardsByDeck {
		decks = append(decks, d)
	}
	return decks, nil
}

func (m *mockFlashcards) GetReviewableCards(ctx context.Context, deckName string) ([]models.Card, error) {
	return m.cardsByDeck[deckName], nil
}

func (m *mockFlashcards) SubmitReview(ctx context.Context, cardID int64, rating models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, cardID)
	return nil
}

func (m *mockFlashcards) GetCardImage(ctx context.Context, filename string) ([]byte, string, error) {
	return nil, "", nil
}

func (m *mockFlashcards) GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error) {
	return nil, nil
}

type endedSession struct {
	sessionID string
	state     string
}

type mockReviewStore struct {
	mu      sync.Mutex
	nextID  int64
	reviews []ports.PendingReview
	ended   []endedSession
}

func (m *mockReviewStore) SaveReview(ctx context.Context, cardID int64, ease int, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.reviews = append(m.reviews, ports.PendingReview{
		ID: m.nextID, CardID: cardID, Ease: ease, SessionID: sessionID, Timestamp: time.Now().UTC(),
	})
	return m.nextID, nil
}

func (m *mockReviewStore) savedReviews() []ports.PendingReview {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.PendingReview(nil), m.reviews...)
}

func (m *mockReviewStore) GetPendingReviews(ctx context.Context) ([]ports.PendingReview, error) {
	return nil, nil
}
func (m *mockReviewStore) MarkSynced(ctx context.Context, reviewID int64) error     { return nil }
func (m *mockReviewStore) IncrementRetry(ctx context.Context, reviewID int64) error { return nil }
func (m *mockReviewStore) CleanupOldSynced(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}
func (m *mockReviewStore) PurgeOldUnsynced(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}
func (m *mockReviewStore) SaveSession(ctx context.Context, rec ports.SessionRecord) error { return nil }
func (m *mockReviewStore) EndSession(ctx context.Context, sessionID, state string, synced, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, endedSession{sessionID: sessionID, state: state})
	return nil
}

func (m *mockReviewStore) endedSessions() []endedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]endedSession(nil), m.ended...)
}
func (m *mockReviewStore) GetIncompleteSessions(ctx context.Context) ([]ports.SessionRecord, error) {
	return nil, nil
}
func (m *mockReviewStore) ResetStaleProcessing(ctx context.Context) (int64, error) { return 0, nil }
func (m *mockReviewStore) Close() error                                            { return nil }

type publishedCard struct {
	card       models.Card
	progress   ports.Progress
	lastRating *models.Rating
}

type publishedRating struct {
	rating        models.Rating
	feedback      string
	cardBack      string
	answerSummary string
	progress      ports.Progress
}

type publishedTranscript struct {
	text   string
	source string
}

// mockPublisher records everything pushed to the client.
type mockPublisher struct {
	mu          sync.Mutex
	cards       []publishedCard
	ratings     []publishedRating
	reveals     []string
	messages    []string
	transcripts []publishedTranscript
	pttStates   []bool
	completes   []models.SessionStats
	errs        []string
}

func (m *mockPublisher) PublishCard(ctx context.Context, card models.Card, progress ports.Progress, lastRating *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, publishedCard{card: card, progress: progress, lastRating: lastRating})
	return nil
}

func (m *mockPublisher) PublishRatingResult(ctx context.Context, rating models.Rating, feedback, cardBack, answerSummary string, progress ports.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings = append(m.ratings, publishedRating{
		rating: rating, feedback: feedback, cardBack: cardBack, answerSummary: answerSummary, progress: progress,
	})
	return nil
}

func (m *mockPublisher) PublishRevealAnswer(ctx context.Context, cardBack string, progress ports.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reveals = append(m.reveals, cardBack)
	return nil
}

func (m *mockPublisher) PublishAgentMessage(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return fmt.Sprintf("msg_%d", len(m.messages)), nil
}

func (m *mockPublisher) PublishUserTranscript(ctx context.Context, text, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts = append(m.transcripts, publishedTranscript{text: text, source: source})
	return nil
}

func (m *mockPublisher) PublishSpeakingState(ctx context.Context, speaking bool) error { return nil }

func (m *mockPublisher) PublishPTTState(ctx context.Context, recording bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pttStates = append(m.pttStates, recording)
	return nil
}

func (m *mockPublisher) PublishSessionComplete(ctx context.Context, stats models.SessionStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes = append(m.completes, stats)
	return nil
}

func (m *mockPublisher) PublishError(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, message)
	return nil
}

func (m *mockPublisher) lastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

type mockSpeaker struct {
	mu         sync.Mutex
	said       []string
	interrupts int
	audioOn    []bool
	clears     int
	sayErr     error
}

func (m *mockSpeaker) Say(ctx context.Context, text string) error {
	if m.sayErr != nil {
		return m.sayErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.said = append(m.said, text)
	return nil
}

func (m *mockSpeaker) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupts++
}

func (m *mockSpeaker) SetAudioInputEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioOn = append(m.audioOn, enabled)
}

func (m *mockSpeaker) ClearUserTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
}

func (m *mockSpeaker) lastSaid() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.said) == 0 {
		return ""
	}
	return m.said[len(m.said)-1]
}

// stallingSpeaker holds its first utterance open until the context is
// cancelled, like real playback of a long clip.
type stallingSpeaker struct {
	mu         sync.Mutex
	said       []string
	interrupts int
	started    chan struct{}
	stalled    bool
}

func newStallingSpeaker() *stallingSpeaker {
	return &stallingSpeaker{started: make(chan struct{})}
}

func (s *stallingSpeaker) Say(ctx context.Context, text string) error {
	s.mu.Lock()
	s.said = append(s.said, text)
	first := !s.stalled
	s.stalled = true
	s.mu.Unlock()

	if first {
		close(s.started)
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *stallingSpeaker) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
}

func (s *stallingSpeaker) SetAudioInputEnabled(enabled bool) {}
func (s *stallingSpeaker) ClearUserTurn()                    {}

func (s *stallingSpeaker) interruptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

func (s *stallingSpeaker) allSaid() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

type testHarness struct {
	orch       *Orchestrator
	llm        *mockLLM
	flashcards *mockFlashcards
	store      *mockReviewStore
	publisher  *mockPublisher
	speaker    *mockSpeaker
	sessions   *services.SessionManager
}

func newTestHarness(cards ...models.Card) *testHarness {
	llm := &mockLLM{}
	flashcards := &mockFlashcards{cardsByDeck: map[string][]models.Card{"Biology": cards}}
	store := &mockReviewStore{}
	publisher := &mockPublisher{}
	speaker := &mockSpeaker{}
	logger := testLogger()

	counter := 0
	newID := func() string {
		counter++
		return fmt.Sprintf("sess_test%d", counter)
	}
	syncer := services.NewSyncOrchestrator(flashcards, store, logger)
	sessions := services.NewSessionManager(flashcards, store, syncer, newID, 30*time.Minute, logger)

	orch := New(
		services.NewEvaluationService(llm, logger),
		services.NewHintService(llm, logger),
		sessions,
		llm,
		publisher,
		speaker,
		logger,
	)
	return &testHarness{
		orch:       orch,
		llm:        llm,
		flashcards: flashcards,
		store:      store,
		publisher:  publisher,
		speaker:    speaker,
		sessions:   sessions,
	}
}

// start initializes a session over the Biology deck and waits out the
// opening speech so tests assert only on what they trigger.
func (h *testHarness) start(ctx context.Context) {
	h.orch.handleEvent(ctx, Event{Type: EventInitSession, SessionID: "sess_live", DeckName: "Biology"})
	h.flush()
	h.orch.stopSilenceTimer()
}

// flush waits for fire-and-forget background tasks, including speech
// delivery.
func (h *testHarness) flush() {
	h.orch.bg.Wait()
}

func biologyCards(n int) []models.Card {
	cards := make([]models.Card, 0, n)
	for i := 1; i <= n; i++ {
		cards = append(cards, models.Card{
			ID:       int64(i),
			DeckName: "Biology",
			Front:    fmt.Sprintf("What is term %d?", i),
			Back:     fmt.Sprintf("Definition %d", i),
		})
	}
	return cards
}
