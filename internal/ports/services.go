// Package ports defines the interfaces between the session core and its
// external collaborators: LLM provider, flashcard store, speech
// synthesis, realtime transport and the recovery database.
package ports

import (
	"context"

	"github.com/longregen/recite/internal/domain/models"
)

// EvaluationRequest carries everything the LLM needs to grade one answer.
type EvaluationRequest struct {
	Question            string   `json:"question"`
	ExpectedAnswer      string   `json:"expected_answer"`
	Transcript          string   `json:"transcript"`
	ResponseTimeSeconds float64  `json:"response_time_seconds"`
	HintsUsed           int      `json:"hints_used"`
	SocraticContext     []string `json:"socratic_context,omitempty"`
}

// HintRequest asks for a pedagogical hint at a given level.
type HintRequest struct {
	Question        string   `json:"question"`
	ExpectedAnswer  string   `json:"expected_answer"`
	HintLevel       int      `json:"hint_level"` // 0 contextual, 1 deeper, 2+ reveal
	PreviousHints   []string `json:"previous_hints,omitempty"`
	UserAttempts    []string `json:"user_attempts,omitempty"`
	SocraticContext []string `json:"socratic_context,omitempty"`
	EvaluationGap   string   `json:"evaluation_gap,omitempty"`
}

// HintResponse is the generated hint.
type HintResponse struct {
	Hint     string `json:"hint"`
	HintType string `json:"hint_type"` // contextual, deeper, reveal
}

// QAExchange is one learner question and the agent's reply, carried as
// conversation context for follow-ups.
type QAExchange struct {
	Question string `json:"q"`
	Answer   string `json:"a"`
}

// QuestionRequest is a free-form learner question about the current
// card, with the per-card conversation so far.
type QuestionRequest struct {
	Question        string       `json:"question"`
	CardFront       string       `json:"card_front"`
	CardBack        string       `json:"card_back"`
	UserAttempts    []string     `json:"user_attempts,omitempty"`
	SocraticContext []string     `json:"socratic_context,omitempty"`
	PreviousHints   []string     `json:"previous_hints,omitempty"`
	History         []QAExchange `json:"history,omitempty"`
}

// LLMService is the grading/hinting/explanation port. Implementations
// must return structured responses; the evaluation service validates
// them and applies the domain overrides.
type LLMService interface {
	EvaluateAnswer(ctx context.Context, req EvaluationRequest) (models.EvaluationResult, error)
	GenerateHint(ctx context.Context, req HintRequest) (HintResponse, error)
	// ExplainAnswer returns a one-or-two sentence "why this matters".
	ExplainAnswer(ctx context.Context, question, answer string) (string, error)
	// AnswerQuestion answers a learner question conversationally. It must
	// add value beyond the visible card, not restate the answer.
	AnswerQuestion(ctx context.Context, req QuestionRequest) (string, error)
	// GenerateMnemonic produces a short memory aid for the card.
	GenerateMnemonic(ctx context.Context, cardFront, cardBack string) (string, error)
}

// FlashcardService abstracts the external flashcard store.
type FlashcardService interface {
	GetDecks(ctx context.Context) ([]string, error)
	// GetReviewableCards returns cards ordered learning, due, new,
	// deduplicated by card id.
	GetReviewableCards(ctx context.Context, deckName string) ([]models.Card, error)
	SubmitReview(ctx context.Context, cardID int64, rating models.Rating) error
	GetCardImage(ctx context.Context, filename string) ([]byte, string, error)
	GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error)
}

// TTSResult is synthesized speech.
type TTSResult struct {
	Audio      []byte
	Format     string
	DurationMs int
}

// TTSService synthesizes short feedback utterances. Synthesize must
// honor ctx cancellation: barge-in cancels the in-flight call.
type TTSService interface {
	Synthesize(ctx context.Context, text string) (TTSResult, error)
}
