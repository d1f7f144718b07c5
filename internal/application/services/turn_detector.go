package services

import (
	"strings"

	"github.com/longregen/recite/internal/domain/models"
)

// TurnStatus is the listener's verdict for the current moment.
type TurnStatus string

const (
	TurnListening          TurnStatus = "listening"
	TurnUtteranceComplete  TurnStatus = "utterance_complete"
	TurnThinking           TurnStatus = "thinking"
	TurnTimeout            TurnStatus = "timeout"
	TurnNeedsClarification TurnStatus = "needs_clarification"
)

// TurnDetectionResult carries the status plus the linguistic cues that
// produced it.
type TurnDetectionResult struct {
	Status               TurnStatus
	ShouldProcess        bool
	NeedsClarification   bool
	ClarificationReason  string
	DetectedFiller       bool
	DetectedContinuation bool
	DetectedDoneMarker   bool
}

// TurnDetector decides when the learner has finished speaking, from
// silence duration, STT confidence and linguistic cues. Pure; no I/O.
type TurnDetector struct {
	silenceUtteranceEndMs int
	silenceThinkingMs     int
	silenceTimeoutMs      int
	confidenceThreshold   float64
}

func NewTurnDetector() *TurnDetector {
	return &TurnDetector{
		silenceUtteranceEndMs: models.SilenceUtteranceEndMs,
		silenceThinkingMs:     models.SilenceThinkingMs,
		silenceTimeoutMs:      models.SilenceTimeoutMs,
		confidenceThreshold:   models.ConfidenceClarifyThreshold,
	}
}

// WithTimeout returns a copy using a different base timeout, used when
// engagement extends patience to 60 s.
func (d *TurnDetector) WithTimeout(timeoutMs int) *TurnDetector {
	copied := *d
	copied.silenceTimeoutMs = timeoutMs
	return &copied
}

// Analyze inspects the latest transcript (nil when no speech yet) and
// the silence elapsed since last speech. clarificationCount is how many
// times we already asked this card; after two we proceed with what we
// have.
func (d *TurnDetector) Analyze(transcript *models.Transcript, silenceDurationMs, clarificationCount int) TurnDetectionResult {
	if silenceDurationMs >= d.silenceTimeoutMs {
		return TurnDetectionResult{Status: TurnTimeout, ShouldProcess: true}
	}

	if transcript == nil {
		status := TurnListening
		if silenceDurationMs >= d.silenceThinkingMs {
			status = TurnThinking
		}
		return TurnDetectionResult{Status: status}
	}

	lower := strings.ToLower(strings.TrimSpace(transcript.Text))
	doneMarker := containsAny(lower, models.DoneMarkers)
	filler := containsAny(lower, models.FillerWords)
	continuation := containsAny(lower, models.ContinuationPhrases)

	cues := TurnDetectionResult{
		DetectedFiller:       filler,
		DetectedContinuation: continuation,
		DetectedDoneMarker:   doneMarker,
	}

	if transcript.Confidence < d.confidenceThreshold && clarificationCount < models.MaxClarificationRequests {
		res := cues
		res.Status = TurnNeedsClarification
		res.NeedsClarification = true
		res.ClarificationReason = models.FeedbackPleaseRepeat
		return res
	}

	if silenceDurationMs >= d.silenceUtteranceEndMs {
		if doneMarker {
			res := cues
			res.Status = TurnUtteranceComplete
			res.ShouldProcess = true
			return res
		}

		// Filler or continuation extends patience up to the thinking window.
		if (filler || continuation) && silenceDurationMs < d.silenceThinkingMs {
			res := cues
			res.Status = TurnThinking
			return res
		}

		if silenceDurationMs >= d.silenceThinkingMs {
			res := cues
			res.Status = TurnUtteranceComplete
			res.ShouldProcess = true
			return res
		}

		// Brief silence: complete only on a final, confident transcript.
		if transcript.IsFinal && transcript.Confidence >= d.confidenceThreshold {
			res := cues
			res.Status = TurnUtteranceComplete
			res.ShouldProcess = true
			return res
		}
	}

	res := cues
	res.Status = TurnListening
	return res
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
