package models

// Silence thresholds (milliseconds) for turn detection.
const (
	SilenceUtteranceEndMs    = 300
	SilenceThinkingMs        = 2000
	SilenceTimeoutMs         = 30000
	SilenceExtendedTimeoutMs = 60000
)

// Confidence thresholds.
const (
	// ConfidenceClarifyThreshold is the STT confidence below which we ask
	// the learner to repeat instead of evaluating.
	ConfidenceClarifyThreshold = 0.7
	// CommandConfidenceThreshold is the parse confidence below which a
	// command needs confirmation.
	CommandConfidenceThreshold = 0.8
)

// Barge-in thresholds (milliseconds).
const (
	MinBargeInDurationMs = 100
	ShortInterruptionMs  = 500
)

// Socratic mode limits.
const (
	MaxSocraticTurns          = 2
	MaxSocraticContextEntries = 6
)

// MaxConsecutiveTimeouts ends the session when the learner stops responding.
const MaxConsecutiveTimeouts = 3

// MaxClarificationRequests caps "could you repeat" per card.
const MaxClarificationRequests = 2

// FillerWords signal the learner is still thinking.
var FillerWords = []string{
	"um", "uh", "hmm", "let me think", "wait", "hold on",
	"so", "well", "like", "you know", "i mean",
}

// ContinuationPhrases signal more speech is coming.
var ContinuationPhrases = []string{
	"and also", "another thing", "plus", "additionally",
	"furthermore", "moreover", "not only that",
}

// DoneMarkers force utterance completion.
var DoneMarkers = []string{
	"that's it", "that's all", "done", "finished",
	"i think that's everything", "that's my answer",
}

// SkipPhrases mean the learner does not know the answer.
var SkipPhrases = []string{
	"i don't know", "i dont know", "i'm not sure", "im not sure",
	"not sure", "no idea", "can't remember", "cant remember",
	"i forget", "pass", "skip", "show me", "what is it",
	"tell me the answer",
}

// Canned feedback spoken to the learner. These are TTS-facing strings,
// keep them short and speakable.
const (
	FeedbackTimeout          = "No worries. Let me show you the answer."
	FeedbackSkip             = "No problem! Here's the answer."
	FeedbackLLMError         = "I had trouble evaluating that. Let's mark it as hard and review again."
	FeedbackRatingEasy       = "Perfect! You've got this one down."
	FeedbackRatingGood       = "Well done! Moving on."
	FeedbackRatingHard       = "Good effort! You'll see this again soon."
	FeedbackRatingAgain      = "No worries. Let's review this one."
	FeedbackSocraticFallback = "What else can you tell me about this?"
	FeedbackNotCaught        = "I didn't catch that. Could you please answer the question?"
	FeedbackPleaseRepeat     = "Could you please repeat?"
)

// FeedbackForRating returns the canned per-rating feedback line.
func FeedbackForRating(r Rating) string {
	switch r {
	case RatingAgain:
		return FeedbackRatingAgain
	case RatingHard:
		return FeedbackRatingHard
	case RatingGood:
		return FeedbackRatingGood
	case RatingEasy:
		return FeedbackRatingEasy
	}
	return FeedbackRatingGood
}
