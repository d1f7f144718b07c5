package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/longregen/recite/internal/ports"
)

const (
	revealPrefix = "Here's the answer. "
	revealSuffix = " Click Next Card when you're ready."

	revealFallback  = "Here's the answer. Take a moment to review it. Click Next Card when you're ready."
	explainFallback = "Take a moment to review the answer. Understanding the 'why' helps it stick."
)

// HintService generates pedagogical hints. The LLM produces guiding
// hints that nudge recall without revealing the answer; on LLM failure
// it falls back to progressive static reveals of the card back.
type HintService struct {
	llm    ports.LLMService
	logger *slog.Logger
}

func NewHintService(llm ports.LLMService, logger *slog.Logger) *HintService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HintService{llm: llm, logger: logger}
}

// GenerateHint produces the hint for the given level: 0 contextual,
// 1 structural, 2+ reveal. Never returns an error; failures degrade to
// static hints.
func (s *HintService) GenerateHint(ctx context.Context, req ports.HintRequest) string {
	start := time.Now()

	// At level 2+ the card is already revealed on screen, so speak a
	// brief key insight instead of reading the full answer.
	if req.HintLevel >= 2 {
		resp, err := s.llm.GenerateHint(ctx, req)
		if err != nil {
			s.logger.Warn("reveal summary failed, using brief fallback", "error", err)
			s.logHint(req.HintLevel, "reveal_fallback", start, true)
			return revealFallback
		}
		s.logHint(req.HintLevel, "reveal_summary", start, false)
		return revealPrefix + resp.Hint + revealSuffix
	}

	s.logger.Debug("generating hint",
		"hint_level", req.HintLevel,
		"previous_hints_count", len(req.PreviousHints),
		"user_attempts_count", len(req.UserAttempts),
		"has_evaluation_gap", req.EvaluationGap != "",
	)

	resp, err := s.llm.GenerateHint(ctx, req)
	if err != nil {
		s.logger.Warn("hint generation failed, using fallback", "error", err)
		s.logHint(req.HintLevel, "fallback", start, true)
		return ProgressiveHint(req.ExpectedAnswer, req.HintLevel)
	}

	s.logHint(req.HintLevel, resp.HintType, start, false)
	return resp.Hint
}

// ExplainAnswer produces a 1-2 sentence insight into why the answer
// matters, used after a give-up instead of re-reading the card back.
func (s *HintService) ExplainAnswer(ctx context.Context, question, answer string) string {
	start := time.Now()

	summary, err := s.llm.ExplainAnswer(ctx, question, answer)
	if err != nil {
		s.logger.Warn("explain answer failed, using fallback", "error", err)
		return explainFallback
	}

	s.logger.Info("explain answer generated",
		"elapsed_ms", time.Since(start).Milliseconds(),
		"summary_length", len(summary),
	)
	return summary
}

func (s *HintService) logHint(level int, hintType string, start time.Time, usedFallback bool) {
	s.logger.Info("hint generated",
		"hint_level", level,
		"hint_type", hintType,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"used_fallback", usedFallback,
	)
}
