package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/metrics"
	"github.com/longregen/recite/internal/ports"
	"github.com/longregen/recite/internal/usage"
)

// Service implements ports.LLMService on an OpenAI-compatible API with
// JSON-schema structured output for the grading paths.
type Service struct {
	client  *openai.Client
	model   string
	tracker *usage.Tracker
	logger  *slog.Logger
}

// NewService builds the adapter. tracker may be nil to disable cost
// logging.
func NewService(baseURL, apiKey string, tracker *usage.Tracker, logger *slog.Logger, opts ...Option) *Service {
	client, cfg := newClient(baseURL, apiKey, opts...)
	logger.Info("llm adapter initialized", "model", cfg.model, "base_url", strings.TrimSuffix(baseURL, "/"))
	return &Service{
		client:  client,
		model:   cfg.model,
		tracker: tracker,
		logger:  logger,
	}
}

// structured runs one chat completion with a strict JSON schema and
// unmarshals the reply into out.
func (s *Service) structured(ctx context.Context, name string, schema json.RawMessage, system, user string, temperature float32, out any) error {
	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: schema,
				Strict: true,
			},
		},
		Temperature: temperature,
	})
	s.observe(name, start, err)
	if err != nil {
		return fmt.Errorf("llm: %s: %w", name, err)
	}
	s.logUsage(name, resp.Usage)

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return fmt.Errorf("llm: %s: empty response", name)
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("llm: %s: invalid JSON response: %w", name, err)
	}
	return nil
}

// freeform runs one chat completion and returns the plain text reply.
func (s *Service) freeform(ctx context.Context, name, prompt string, temperature float32) (string, error) {
	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	})
	s.observe(name, start, err)
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", name, err)
	}
	s.logUsage(name, resp.Usage)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: %s: empty response", name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (s *Service) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(operation, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *Service) logUsage(operation string, u openai.Usage) {
	if u.TotalTokens == 0 {
		return
	}
	if s.tracker != nil {
		s.tracker.LogLLM(s.model, u.PromptTokens, u.CompletionTokens)
	}
	s.logger.Debug("llm usage",
		"operation", operation,
		"model", s.model,
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens)
}

func (s *Service) EvaluateAnswer(ctx context.Context, req ports.EvaluationRequest) (models.EvaluationResult, error) {
	var b strings.Builder
	b.WriteString("<flashcard>\n")
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Expected: %s\n", req.ExpectedAnswer)
	b.WriteString("</flashcard>\n\n")
	b.WriteString("<student_response>\n")
	fmt.Fprintf(&b, "Transcript: %s\n", req.Transcript)
	fmt.Fprintf(&b, "Response time: %.1fs\n", req.ResponseTimeSeconds)
	fmt.Fprintf(&b, "Hints used: %d\n", req.HintsUsed)
	b.WriteString("</student_response>\n")
	if len(req.SocraticContext) > 0 {
		b.WriteString("\n<socratic_context>\n")
		for _, turn := range lastN(req.SocraticContext, 3) {
			fmt.Fprintf(&b, "- %s\n", turn)
		}
		b.WriteString("</socratic_context>\n")
	}
	b.WriteString("\n<task>Evaluate the student's answer.</task>")

	var result models.EvaluationResult
	if err := s.structured(ctx, "evaluation_response", evaluationSchema,
		evaluationSystemPrompt, b.String(), 0.3, &result); err != nil {
		return models.EvaluationResult{}, err
	}
	return result, nil
}

func (s *Service) GenerateHint(ctx context.Context, req ports.HintRequest) (ports.HintResponse, error) {
	hintType := "reveal"
	switch req.HintLevel {
	case 0:
		hintType = "contextual"
	case 1:
		hintType = "deeper"
	}

	var b strings.Builder
	b.WriteString("<flashcard>\n")
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Answer: %s\n", req.ExpectedAnswer)
	b.WriteString("</flashcard>\n\n")
	fmt.Fprintf(&b, "<hint_level>%d (%s)</hint_level>\n", req.HintLevel, hintType)
	if len(req.UserAttempts) > 0 {
		b.WriteString("\n<user_attempts>\n")
		for _, attempt := range lastN(req.UserAttempts, 3) {
			fmt.Fprintf(&b, "- %q\n", attempt)
		}
		b.WriteString("</user_attempts>\n")
	}
	if req.EvaluationGap != "" {
		fmt.Fprintf(&b, "\n<evaluation_gap>%s</evaluation_gap>\n", req.EvaluationGap)
	}
	if len(req.SocraticContext) > 0 {
		b.WriteString("\n<socratic_exchanges>\n")
		for _, turn := range lastN(req.SocraticContext, 4) {
			fmt.Fprintf(&b, "- %s\n", turn)
		}
		b.WriteString("</socratic_exchanges>\n")
	}
	if len(req.PreviousHints) > 0 {
		b.WriteString("\n<previous_hints>\n")
		for _, hint := range req.PreviousHints {
			fmt.Fprintf(&b, "- %s\n", hint)
		}
		b.WriteString("</previous_hints>\n")
	}
	b.WriteString("\n<task>Generate a hint for the student.</task>")

	var resp ports.HintResponse
	if err := s.structured(ctx, "hint_response", hintSchema,
		hintSystemPrompt, b.String(), 0.7, &resp); err != nil {
		return ports.HintResponse{}, err
	}
	return resp, nil
}

func (s *Service) ExplainAnswer(ctx context.Context, question, answer string) (string, error) {
	user := fmt.Sprintf("<flashcard>\nQuestion: %s\nAnswer: %s\n</flashcard>\n\n<task>Generate a brief explanation of why this answer matters.</task>",
		question, answer)

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := s.structured(ctx, "explain_response", explainSchema,
		explainSystemPrompt, user, 0.5, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// AnswerQuestion answers a learner question about the current card.
// The prompt variant depends on what kind of question was asked; the
// card is already visible, so every variant demands new value.
func (s *Service) AnswerQuestion(ctx context.Context, req ports.QuestionRequest) (string, error) {
	convContext := buildConversationContext(req)
	lower := strings.ToLower(req.Question)

	var task string
	switch {
	case strings.Contains(lower, "explain") || strings.Contains(lower, "more detail"):
		task = `TASK: Give ONE insight they WON'T find in the answer above.

Rules:
- DO NOT summarize or rephrase the answer
- Share the "aha moment" or mental model behind this concept
- If there's conversation history, build on previous responses
- 2 sentences max
- Start directly with the insight`
	case strings.Contains(lower, "example"):
		task = `TASK: One SPECIFIC real-world scenario (not mentioned in the answer).

Rules:
- Use concrete names/situations
- Show cause and effect
- If there's conversation history, build on or connect to previous examples
- 2-3 sentences max
- Start directly with the example`
	case strings.Contains(lower, "why") || strings.Contains(lower, "important"):
		task = `TASK: Why does this matter? What breaks without it?

Rules:
- Focus on consequences, not definitions
- Be specific (name a real problem it prevents)
- If there's conversation history, connect to previous discussion
- 2 sentences max
- Start directly`
	default:
		task = fmt.Sprintf(`User asks: %s

Rules:
- Answer their specific question directly
- CRITICAL: If user references something from conversation history, use that context
- Add value they can't get from the card
- 2-3 sentences max
- Start directly with your answer`, req.Question)
	}

	prompt := fmt.Sprintf("Context (user already sees this):\nQ: %s\nA: %s\n%s\n%s",
		req.CardFront, req.CardBack, convContext, task)
	return s.freeform(ctx, "answer_question", prompt, 0.7)
}

func (s *Service) GenerateMnemonic(ctx context.Context, cardFront, cardBack string) (string, error) {
	prompt := fmt.Sprintf(`Generate a memorable memory aid for this flashcard:

Question: %s
Answer: %s

Create ONE of these (choose the most effective):
- Acronym using first letters
- Vivid mental image or story
- Rhyme or rhythm
- Association with something familiar
- Analogy to everyday life

Keep it concise (1-2 sentences), memorable, and speak it naturally.
Tone: Warm tutor helping a student remember.
Just output the mnemonic directly, nothing else.`, cardFront, cardBack)
	return s.freeform(ctx, "generate_mnemonic", prompt, 0.8)
}

func buildConversationContext(req ports.QuestionRequest) string {
	var b strings.Builder
	if len(req.UserAttempts) > 0 {
		b.WriteString("\n<user_attempts>\n")
		for _, attempt := range lastN(req.UserAttempts, 2) {
			fmt.Fprintf(&b, "- %q\n", attempt)
		}
		b.WriteString("</user_attempts>\n")
	}
	if len(req.SocraticContext) > 0 {
		b.WriteString("\n<socratic_discussion>\n")
		for _, turn := range lastN(req.SocraticContext, 4) {
			b.WriteString(turn + "\n")
		}
		b.WriteString("</socratic_discussion>\n")
	}
	if len(req.PreviousHints) > 0 {
		b.WriteString("\n<previous_hints>\n")
		for _, hint := range lastN(req.PreviousHints, 3) {
			fmt.Fprintf(&b, "- %s\n", hint)
		}
		b.WriteString("</previous_hints>\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\n<conversation>\n")
		start := len(req.History) - 3
		if start < 0 {
			start = 0
		}
		for _, qa := range req.History[start:] {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", qa.Question, qa.Answer)
		}
		b.WriteString("</conversation>\n")
	}
	return b.String()
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
