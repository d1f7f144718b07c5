package models

import "strings"

// EvaluationResult is the structured outcome of grading one answer.
// Reasoning is generated first by the LLM (chain of thought), the
// remaining fields derive from it.
type EvaluationResult struct {
	Reasoning           string `json:"reasoning"`
	CorrectedTranscript string `json:"corrected_transcript,omitempty"`
	IsCorrect           bool   `json:"is_semantically_correct"`
	FluencyScore        int    `json:"fluency_score"` // 1-4
	Rating              Rating `json:"rating"`
	Feedback            string `json:"feedback"`
	EnterSocratic       bool   `json:"enter_socratic_mode"`
	SocraticPrompt      string `json:"socratic_prompt,omitempty"`
	AnswerSummary       string `json:"answer_summary"`
}

// IsTimeout reports whether this result came from a response timeout.
func (e EvaluationResult) IsTimeout() bool {
	return strings.Contains(strings.ToLower(e.Reasoning), "timeout")
}

// NeedsExplanation is true for failing ratings.
func (e EvaluationResult) NeedsExplanation() bool { return e.Rating <= RatingHard }

// TimeoutResult is the canned Again result for a silent learner.
func TimeoutResult(answerSummary string) EvaluationResult {
	return EvaluationResult{
		Reasoning:     "User did not respond within timeout period",
		IsCorrect:     false,
		FluencyScore:  1,
		Rating:        RatingAgain,
		Feedback:      FeedbackTimeout,
		AnswerSummary: answerSummary,
	}
}

// SkipResult is the canned Again result for an explicit "I don't know".
func SkipResult(answerSummary string) EvaluationResult {
	return EvaluationResult{
		Reasoning:     "User indicated they don't know the answer",
		IsCorrect:     false,
		FluencyScore:  1,
		Rating:        RatingAgain,
		Feedback:      FeedbackSkip,
		AnswerSummary: answerSummary,
	}
}
