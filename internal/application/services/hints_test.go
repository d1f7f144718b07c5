package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/longregen/recite/internal/ports"
)

func TestGenerateHint_UsesLLMHint(t *testing.T) {
	llm := &mockLLM{
		hintFunc: func(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
			assert.Equal(t, 0, req.HintLevel)
			return ports.HintResponse{Hint: "It starts with the letter P.", HintType: "contextual"}, nil
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.GenerateHint(context.Background(), ports.HintRequest{
		Question:       "Capital of France?",
		ExpectedAnswer: "Paris",
		HintLevel:      0,
	})

	assert.Equal(t, "It starts with the letter P.", got)
}

func TestGenerateHint_FallsBackToProgressive(t *testing.T) {
	llm := &mockLLM{
		hintFunc: func(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
			return ports.HintResponse{}, errors.New("llm down")
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.GenerateHint(context.Background(), ports.HintRequest{
		Question:       "Capital of France?",
		ExpectedAnswer: "Paris is the capital. It sits on the Seine.",
		HintLevel:      0,
	})

	assert.Equal(t, "Here's a hint: Paris is the capital...", got)
}

func TestGenerateHint_RevealWrapsSummary(t *testing.T) {
	llm := &mockLLM{
		hintFunc: func(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
			return ports.HintResponse{Hint: "The key is the river location", HintType: "reveal"}, nil
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.GenerateHint(context.Background(), ports.HintRequest{
		Question:       "Capital of France?",
		ExpectedAnswer: "Paris",
		HintLevel:      2,
	})

	assert.Equal(t, "Here's the answer. The key is the river location Click Next Card when you're ready.", got)
}

func TestGenerateHint_RevealFallback(t *testing.T) {
	llm := &mockLLM{
		hintFunc: func(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
			return ports.HintResponse{}, errors.New("llm down")
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.GenerateHint(context.Background(), ports.HintRequest{HintLevel: 3, ExpectedAnswer: "Paris"})

	assert.Equal(t, revealFallback, got)
}

func TestExplainAnswer(t *testing.T) {
	llm := &mockLLM{
		explainFunc: func(ctx context.Context, question, answer string) (string, error) {
			return "Paris has been the seat of French government for centuries.", nil
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.ExplainAnswer(context.Background(), "Capital of France?", "Paris")

	assert.Equal(t, "Paris has been the seat of French government for centuries.", got)
}

func TestExplainAnswer_Fallback(t *testing.T) {
	llm := &mockLLM{
		explainFunc: func(ctx context.Context, question, answer string) (string, error) {
			return "", errors.New("llm down")
		},
	}
	svc := NewHintService(llm, testLogger())

	got := svc.ExplainAnswer(context.Background(), "Q", "A")

	assert.Equal(t, explainFallback, got)
}
