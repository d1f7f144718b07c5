// Package services holds the session-core domain services: command
// parsing, turn detection, card sanitization, evaluation, hints,
// barge-in, session lifecycle and rating sync.
package services

import (
	"regexp"
	"strings"

	"github.com/longregen/recite/internal/domain/models"
)

// MaxCommandLength bounds command matching; longer text is always an
// answer (also keeps the regex scan cheap).
const MaxCommandLength = 100

// CommandType classifies a user utterance.
type CommandType string

const (
	// Always available.
	CommandSkip    CommandType = "skip"
	CommandGiveUp  CommandType = "give_up" // show answer, then Again
	CommandRepeat  CommandType = "repeat"
	CommandHint    CommandType = "hint"
	CommandStop    CommandType = "stop"
	CommandUndo    CommandType = "undo"
	CommandExplain CommandType = "explain"
	CommandStatus  CommandType = "status"

	// During question presentation.
	CommandReadAgain CommandType = "read_again"
	CommandSlower    CommandType = "slower"
	CommandFaster    CommandType = "faster"
	CommandWhatDeck  CommandType = "what_deck"

	// During evaluation.
	CommandDisagree CommandType = "disagree"
	CommandReanswer CommandType = "reanswer"
	CommandWhy      CommandType = "why"

	// During feedback.
	CommandMarkEasy  CommandType = "mark_easy"
	CommandMarkGood  CommandType = "mark_good"
	CommandMarkHard  CommandType = "mark_hard"
	CommandMarkAgain CommandType = "mark_again"
	CommandNext      CommandType = "next"
	CommandQuestion  CommandType = "question"

	CommandUnknown CommandType = "unknown"
	CommandAnswer  CommandType = "answer" // not a command
)

// CommandContext gates which commands are valid right now.
type CommandContext string

const (
	ContextAny        CommandContext = "any"
	ContextQuestion   CommandContext = "question"
	ContextListening  CommandContext = "listening"
	ContextEvaluation CommandContext = "evaluation"
	ContextFeedback   CommandContext = "feedback"
)

// ParsedCommand is the classification result.
type ParsedCommand struct {
	Type              CommandType
	Confidence        float64
	RawText           string
	Match             string
	NeedsConfirmation bool
}

type commandPattern struct {
	re       *regexp.Regexp
	cmd      CommandType
	contexts []CommandContext
}

func pattern(expr string, cmd CommandType, contexts ...CommandContext) commandPattern {
	return commandPattern{re: regexp.MustCompile(expr), cmd: cmd, contexts: contexts}
}

// Ordered: first match wins.
var commandPatterns = []commandPattern{
	pattern(`\b(skip|pass)\b`, CommandSkip, ContextAny),
	pattern(`\b(next|continue|next card)\b`, CommandNext, ContextFeedback),
	pattern(`\b(repeat|say that again|again please)\b`, CommandRepeat, ContextAny),
	pattern(`\b(hint|give me a hint|help me)\b`, CommandHint, ContextAny),
	pattern(`\b(stop|end session|quit|exit)\b`, CommandStop, ContextAny),
	pattern(`\b(undo|go back|previous)\b`, CommandUndo, ContextAny),
	pattern(`\b(explain|tell me more|elaborate)\b`, CommandExplain, ContextAny),
	pattern(`\bhow am i doing\b`, CommandStatus, ContextAny),
	pattern(`\b(i don'?t know|no idea|can'?t remember|i forget)\b`, CommandGiveUp, ContextAny),
	pattern(`\b(show me|what is it|tell me the answer|give up)\b`, CommandGiveUp, ContextAny),
	pattern(`\bread (it )?again\b`, CommandReadAgain, ContextQuestion),
	pattern(`\bslower\b`, CommandSlower, ContextQuestion, ContextFeedback),
	pattern(`\bfaster\b`, CommandFaster, ContextQuestion, ContextFeedback),
	pattern(`\bwhat deck\b`, CommandWhatDeck, ContextQuestion),
	pattern(`\bi disagree\b`, CommandDisagree, ContextEvaluation, ContextFeedback),
	pattern(`\bthat'?s not what i meant\b`, CommandReanswer, ContextEvaluation),
	pattern(`\bwhy\b`, CommandWhy, ContextEvaluation, ContextFeedback),
	pattern(`\bcan you explain why\b`, CommandWhy, ContextEvaluation, ContextFeedback),
	pattern(`\bmark (as |it )?easy\b`, CommandMarkEasy, ContextFeedback),
	pattern(`\bmark (as |it )?good\b`, CommandMarkGood, ContextFeedback),
	pattern(`\bmark (as |it )?hard\b`, CommandMarkHard, ContextFeedback),
	pattern(`\bmark (as |it )?again\b`, CommandMarkAgain, ContextFeedback),
	pattern(`\bi actually knew that\b`, CommandMarkGood, ContextFeedback),
	pattern(`\bthat was (harder|more difficult)\b`, CommandMarkHard, ContextFeedback),
	pattern(`\bthat was easy\b`, CommandMarkEasy, ContextFeedback),
}

// CommandParser classifies utterances as commands or answers. Pure and
// deterministic; safe for concurrent use.
type CommandParser struct {
	confidenceThreshold float64
}

func NewCommandParser() *CommandParser {
	return &CommandParser{confidenceThreshold: models.CommandConfidenceThreshold}
}

// Parse classifies text within the given context. Confidence is the
// matched-span share of the utterance capped by the STT confidence.
func (p *CommandParser) Parse(text string, context CommandContext, transcriptConfidence float64) ParsedCommand {
	lower := strings.ToLower(strings.TrimSpace(text))

	if lower == "" {
		return ParsedCommand{
			Type:              CommandUnknown,
			RawText:           text,
			NeedsConfirmation: true,
		}
	}

	if len(lower) > MaxCommandLength {
		return ParsedCommand{
			Type:       CommandAnswer,
			Confidence: transcriptConfidence,
			RawText:    text,
		}
	}

	for _, cp := range commandPatterns {
		if !contextAllowed(cp.contexts, context) {
			continue
		}
		match := cp.re.FindString(lower)
		if match == "" {
			continue
		}
		confidence := min(float64(len(match))/float64(len(lower)), transcriptConfidence)
		return ParsedCommand{
			Type:              cp.cmd,
			Confidence:        confidence,
			RawText:           text,
			Match:             match,
			NeedsConfirmation: confidence < p.confidenceThreshold,
		}
	}

	return ParsedCommand{
		Type:       CommandAnswer,
		Confidence: transcriptConfidence,
		RawText:    text,
	}
}

func contextAllowed(valid []CommandContext, current CommandContext) bool {
	for _, c := range valid {
		if c == ContextAny || c == current {
			return true
		}
	}
	return false
}

// RatingFromCommand maps a mark-as override to its ease value.
func RatingFromCommand(cmd CommandType) (models.Rating, bool) {
	switch cmd {
	case CommandMarkAgain:
		return models.RatingAgain, true
	case CommandMarkHard:
		return models.RatingHard, true
	case CommandMarkGood:
		return models.RatingGood, true
	case CommandMarkEasy:
		return models.RatingEasy, true
	}
	return 0, false
}
