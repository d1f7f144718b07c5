package models

// ConfidenceLevel buckets STT confidence for turn decisions.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"   // >= 0.9, proceed
	ConfidenceMedium ConfidenceLevel = "medium" // 0.7-0.9, proceed but may clarify
	ConfidenceLow    ConfidenceLevel = "low"    // < 0.7, ask to repeat
)

func ConfidenceLevelFromScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.9:
		return ConfidenceHigh
	case score >= ConfidenceClarifyThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SpeechSegment is a timed slice of transcribed speech.
type SpeechSegment struct {
	Text        string  `json:"text"`
	StartTimeMs int     `json:"start_time_ms"`
	EndTimeMs   int     `json:"end_time_ms"`
	Confidence  float64 `json:"confidence"`
}

func (s SpeechSegment) DurationMs() int { return s.EndTimeMs - s.StartTimeMs }

// Transcript is a complete user utterance from STT.
type Transcript struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	IsFinal    bool            `json:"is_final"`
	Segments   []SpeechSegment `json:"segments,omitempty"`
}

func (t Transcript) ConfidenceLevel() ConfidenceLevel {
	return ConfidenceLevelFromScore(t.Confidence)
}

// NeedsClarification is true when confidence is too low to evaluate.
func (t Transcript) NeedsClarification() bool {
	return t.ConfidenceLevel() == ConfidenceLow
}

func (t Transcript) DurationMs() int {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].EndTimeMs - t.Segments[0].StartTimeMs
}
