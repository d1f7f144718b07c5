package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

// EvaluationBudgetMs is the soft latency budget for one LLM grading call.
const EvaluationBudgetMs = 500

const (
	timeoutAnswerSummary = "Take a moment to review this answer. You'll see it again soon."
	skipAnswerSummary    = "Take a moment to review the answer above. Understanding the 'why' behind concepts helps retention."
)

// EvaluationInput is everything needed to grade one answer.
type EvaluationInput struct {
	Question            string
	ExpectedAnswer      string
	Transcript          string
	ResponseTimeSeconds float64
	HintsUsed           int
	SocraticContext     []string
	IsTimeout           bool
}

// EvaluationService wraps the LLM evaluate port and owns the domain
// rules: edge-case shortcuts, the hint rating cap, socratic consistency
// and graceful degradation when the LLM fails.
type EvaluationService struct {
	llm    ports.LLMService
	logger *slog.Logger
}

func NewEvaluationService(llm ports.LLMService, logger *slog.Logger) *EvaluationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationService{llm: llm, logger: logger}
}

// Evaluate grades the transcript. It never returns an error: LLM
// failures degrade to a Hard rating with canned feedback.
func (s *EvaluationService) Evaluate(ctx context.Context, input EvaluationInput) models.EvaluationResult {
	start := time.Now()

	if input.IsTimeout {
		s.logger.Info("evaluation timeout", "question", truncate(input.Question, 50))
		return models.TimeoutResult(timeoutAnswerSummary)
	}

	if isExplicitSkip(input.Transcript) {
		s.logger.Info("evaluation explicit skip", "transcript", truncate(input.Transcript, 50))
		return models.SkipResult(skipAnswerSummary)
	}

	if strings.TrimSpace(input.Transcript) == "" {
		s.logger.Info("evaluation empty transcript")
		return models.TimeoutResult(timeoutAnswerSummary)
	}

	response, err := s.llm.EvaluateAnswer(ctx, ports.EvaluationRequest{
		Question:            input.Question,
		ExpectedAnswer:      input.ExpectedAnswer,
		Transcript:          input.Transcript,
		ResponseTimeSeconds: input.ResponseTimeSeconds,
		HintsUsed:           input.HintsUsed,
		SocraticContext:     input.SocraticContext,
	})
	if err != nil {
		s.logger.Error("llm evaluation failed", "error", err)
		// Benefit of the doubt: mark Hard so the card comes back soon.
		return models.EvaluationResult{
			Reasoning:    "LLM evaluation failed: " + err.Error(),
			IsCorrect:    true,
			FluencyScore: 2,
			Rating:       models.RatingHard,
			Feedback:     models.FeedbackLLMError,
		}
	}

	result := s.applyOverrides(response, input)

	elapsed := time.Since(start)
	s.logger.Info("evaluation complete",
		"transcript", truncate(input.Transcript, 100),
		"corrected_transcript", result.CorrectedTranscript,
		"is_correct", result.IsCorrect,
		"fluency_score", result.FluencyScore,
		"rating", int(result.Rating),
		"response_time_ms", int(input.ResponseTimeSeconds*1000),
		"evaluation_time_ms", elapsed.Milliseconds(),
		"within_budget", elapsed.Milliseconds() < EvaluationBudgetMs,
		"socratic_triggered", result.EnterSocratic,
		"hints_used", input.HintsUsed,
	)

	return result
}

// applyOverrides enforces the domain rules on the raw LLM response.
func (s *EvaluationService) applyOverrides(r models.EvaluationResult, input EvaluationInput) models.EvaluationResult {
	rating := r.Rating
	enterSocratic := r.EnterSocratic
	socraticPrompt := r.SocraticPrompt

	// Correct answers never enter socratic mode: socratic follow-up is
	// for partial answers only. Floor the rating when delivery was fluent.
	if r.IsCorrect {
		if enterSocratic {
			s.logger.Info("overriding socratic mode, answer is already correct",
				"original_rating", int(r.Rating), "fluency", r.FluencyScore)
		}
		enterSocratic = false
		socraticPrompt = ""
		if rating < models.RatingGood && r.FluencyScore >= 3 {
			rating = models.RatingGood
		}
	}

	// Taking a hint caps the rating at Hard, even for correct answers.
	if input.HintsUsed > 0 && rating > models.RatingHard {
		rating = models.RatingHard
	}

	if enterSocratic && socraticPrompt == "" {
		socraticPrompt = models.FeedbackSocraticFallback
	}
	if !enterSocratic {
		socraticPrompt = ""
	}

	if !rating.Valid() {
		rating = models.RatingHard
	}

	r.Rating = rating
	r.EnterSocratic = enterSocratic
	r.SocraticPrompt = socraticPrompt
	if strings.TrimSpace(r.Feedback) == "" {
		r.Feedback = models.FeedbackForRating(rating)
	}
	return r
}

func isExplicitSkip(transcript string) bool {
	lower := strings.ToLower(strings.TrimSpace(transcript))
	for _, phrase := range models.SkipPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
