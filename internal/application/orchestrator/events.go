package orchestrator

// EventType discriminates inbound session events. They arrive from the
// realtime data channel, the HTTP API and internal timers, and are
// consumed in order by the event loop.
type EventType string

const (
	EventInitSession    EventType = "init_session"
	EventTextInput      EventType = "user_text_input"
	EventTranscript     EventType = "user_transcript"
	EventQuestion       EventType = "user_question"
	EventHint           EventType = "hint"
	EventGiveUp         EventType = "give_up"
	EventMnemonic       EventType = "mnemonic_request"
	EventPTTStart       EventType = "ptt_start"
	EventPTTEnd         EventType = "ptt_end"
	EventPTTCancel      EventType = "ptt_cancel"
	EventSilenceTimeout EventType = "silence_timeout"
	EventBargeIn        EventType = "barge_in"
	EventShutdown       EventType = "shutdown"

	// eventPTTSettled is internal: STT had its settle window after the
	// learner released the button.
	eventPTTSettled EventType = "ptt_settled"

	// eventTTSDone is internal: an utterance finished playing or was cut
	// short, so the silence countdown can restart.
	eventTTSDone EventType = "tts_done"
)

// Event is one inbound session event. Only the fields relevant to its
// type are set.
type Event struct {
	Type EventType

	// EventInitSession
	SessionID string
	DeckName  string

	// Text, transcript and question payloads.
	Text       string
	Confidence float64
	IsFinal    bool

	// EventBargeIn
	SpeechDurationMs int
}
