package livekit

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/longregen/recite/internal/application/orchestrator"
)

// Submitter receives session events. The orchestrator satisfies it.
type Submitter interface {
	Submit(orchestrator.Event)
}

// inboundMessage is the envelope clients send on the data channel.
type inboundMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	DeckName  string `json:"deck_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// STT transcripts and barge-in.
	Confidence       float64 `json:"confidence,omitempty"`
	IsFinal          bool    `json:"is_final,omitempty"`
	SpeechDurationMs int     `json:"speech_duration_ms,omitempty"`
}

// Router turns inbound data-channel messages into orchestrator
// events. Messages from agent participants are dropped; the agent
// never routes its own publishes back into the loop.
type Router struct {
	submitter Submitter
	logger    *slog.Logger
}

func NewRouter(submitter Submitter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{submitter: submitter, logger: logger}
}

// HandleData parses one data payload from the given participant.
func (r *Router) HandleData(data []byte, senderIdentity string) {
	if strings.HasPrefix(senderIdentity, agentIdentityPrefix) {
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn("undecodable data message", "sender", senderIdentity, "error", err)
		return
	}

	switch msg.Type {
	case "init_session":
		r.submitter.Submit(orchestrator.Event{
			Type:      orchestrator.EventInitSession,
			SessionID: msg.SessionID,
			DeckName:  msg.DeckName,
		})
	case "user_text_input":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventTextInput, Text: msg.Text})
	case "user_question":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventQuestion, Text: msg.Text})
	case "hint":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventHint})
	case "give_up":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventGiveUp})
	case "mnemonic_request":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventMnemonic})
	case "ptt_start":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventPTTStart})
	case "ptt_end":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventPTTEnd})
	case "ptt_cancel":
		r.submitter.Submit(orchestrator.Event{Type: orchestrator.EventPTTCancel})
	case "user_transcript":
		r.HandleTranscript(msg.Text, msg.Confidence, msg.IsFinal)
	case "barge_in":
		r.submitter.Submit(orchestrator.Event{
			Type:             orchestrator.EventBargeIn,
			Text:             msg.Text,
			Confidence:       msg.Confidence,
			SpeechDurationMs: msg.SpeechDurationMs,
		})
	default:
		r.logger.Warn("unknown data message type", "type", msg.Type, "sender", senderIdentity)
	}
}

// HandleTranscript feeds an STT transcript segment into the loop.
func (r *Router) HandleTranscript(text string, confidence float64, isFinal bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	r.submitter.Submit(orchestrator.Event{
		Type:       orchestrator.EventTranscript,
		Text:       text,
		Confidence: confidence,
		IsFinal:    isFinal,
	})
}
