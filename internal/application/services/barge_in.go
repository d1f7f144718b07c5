package services

import (
	"github.com/longregen/recite/internal/domain/models"
)

// BargeInAction is what the orchestrator does after an interruption.
type BargeInAction string

const (
	BargeInListen          BargeInAction = "listen"
	BargeInExecuteCommand  BargeInAction = "execute_command"
	BargeInAcknowledgeWait BargeInAction = "acknowledge_wait"
	BargeInResume          BargeInAction = "resume"
)

// BargeInResult is the verdict for one interruption.
type BargeInResult struct {
	Action         BargeInAction
	ShouldStopTTS  bool
	Acknowledgment string
	Command        *ParsedCommand
}

var commandAcknowledgments = map[CommandType]string{
	CommandSkip:    "Skipping.",
	CommandRepeat:  "Sure, I'll repeat.",
	CommandHint:    "Here's a hint.",
	CommandStop:    "Ending session.",
	CommandUndo:    "Going back.",
	CommandExplain: "Let me explain.",
	CommandSlower:  "I'll speak slower.",
	CommandFaster:  "I'll speak faster.",
}

// BargeInHandler classifies user speech that arrives while TTS is
// playing. Anything shorter than the noise floor resumes playback;
// real speech always stops TTS within the interruption budget.
type BargeInHandler struct {
	parser *CommandParser
}

func NewBargeInHandler(parser *CommandParser) *BargeInHandler {
	if parser == nil {
		parser = NewCommandParser()
	}
	return &BargeInHandler{parser: parser}
}

// HandleInterruption decides how to react to speech of the given
// duration. transcript may be empty when STT has not caught up yet.
func (h *BargeInHandler) HandleInterruption(speechDurationMs int, transcript string, transcriptConfidence float64, context CommandContext) BargeInResult {
	if speechDurationMs < models.MinBargeInDurationMs {
		return BargeInResult{Action: BargeInResume}
	}

	if transcript == "" {
		return BargeInResult{Action: BargeInListen, ShouldStopTTS: true}
	}

	cmd := h.parser.Parse(transcript, context, transcriptConfidence)
	if cmd.Type != CommandAnswer && cmd.Confidence >= models.ConfidenceClarifyThreshold {
		ack, ok := commandAcknowledgments[cmd.Type]
		if !ok {
			ack = "Got it."
		}
		return BargeInResult{
			Action:         BargeInExecuteCommand,
			ShouldStopTTS:  true,
			Acknowledgment: ack,
			Command:        &cmd,
		}
	}

	// A quick "wait" gets a prompt back; longer speech means the user
	// has something to say.
	if speechDurationMs < models.ShortInterruptionMs {
		return BargeInResult{
			Action:         BargeInAcknowledgeWait,
			ShouldStopTTS:  true,
			Acknowledgment: "Yes?",
		}
	}

	return BargeInResult{Action: BargeInListen, ShouldStopTTS: true}
}
