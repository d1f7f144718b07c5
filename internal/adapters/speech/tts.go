package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/longregen/recite/internal/adapters/circuitbreaker"
	"github.com/longregen/recite/internal/metrics"
	"github.com/longregen/recite/internal/ports"
	"github.com/longregen/recite/internal/usage"
)

const (
	defaultTTSEndpoint = "http://localhost:8000"
	speechPath         = "/v1/audio/speech"

	// synthesisTimeout bounds one synthesis call; barge-in cancels
	// through ctx well before this.
	synthesisTimeout = 30 * time.Second

	// Output format is 16 kHz mono linear16 for the realtime pipeline.
	sampleRate     = 16000
	bytesPerSample = 2
)

// TTSAdapter implements ports.TTSService against an OpenAI-style
// /v1/audio/speech endpoint. A circuit breaker keeps a dead TTS
// backend from stalling every utterance in the session.
type TTSAdapter struct {
	client  *client
	model   string
	voice   string
	breaker *circuitbreaker.CircuitBreaker
	tracker *usage.Tracker
}

func NewTTSAdapter(endpoint, model, voice string, tracker *usage.Tracker) *TTSAdapter {
	if endpoint == "" {
		endpoint = defaultTTSEndpoint
	}
	if model == "" {
		model = "kokoro"
	}
	if voice == "" {
		voice = "af_sarah"
	}
	return &TTSAdapter{
		client:  newHTTPClient(endpoint),
		model:   model,
		voice:   voice,
		breaker: circuitbreaker.New(5, 30*time.Second),
		tracker: tracker,
	}
}

type ttsRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

func (t *TTSAdapter) Synthesize(ctx context.Context, text string) (ports.TTSResult, error) {
	start := time.Now()
	var result ports.TTSResult
	err := t.breaker.Execute(func() error {
		var err error
		result, err = t.synthesize(ctx, text)
		return err
	})
	if err == nil {
		metrics.TTSRequestDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (t *TTSAdapter) synthesize(ctx context.Context, text string) (ports.TTSResult, error) {
	if text == "" {
		return ports.TTSResult{}, fmt.Errorf("speech: text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	audio, err := t.client.postJSONRaw(ctx, speechPath, ttsRequest{
		Model:          t.model,
		Input:          text,
		Voice:          t.voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return ports.TTSResult{}, fmt.Errorf("speech: synthesis failed: %w", err)
	}

	if t.tracker != nil {
		t.tracker.LogTTS(t.model, len(text))
	}

	return ports.TTSResult{
		Audio:      audio,
		Format:     "pcm",
		DurationMs: len(audio) * 1000 / (sampleRate * bytesPerSample),
	}, nil
}

type voicesResponse struct {
	Voices []struct {
		ID string `json:"id"`
	} `json:"voices"`
}

// Voices lists the backend's voice ids. Falls back to the configured
// voice when the endpoint does not expose a listing.
func (t *TTSAdapter) Voices(ctx context.Context) []string {
	var resp voicesResponse
	if err := t.client.get(ctx, "/v1/audio/voices", &resp); err != nil {
		return []string{t.voice}
	}
	voices := make([]string, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, v.ID)
	}
	return voices
}
