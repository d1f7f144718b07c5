// Package usage appends billable-service events to a JSONL file and
// aggregates them for the usage endpoint and CLI.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Billable service identifiers.
const (
	ServiceLLM     = "llm"
	ServiceTTS     = "tts"
	ServiceSession = "livekit_session"
)

// Per-million-token LLM pricing in USD, keyed by model.
var llmPricing = map[string]struct{ input, output float64 }{
	"gemini-2.0-flash":       {0.10, 0.40},
	"gemini-2.0-flash-lite":  {0.075, 0.30},
	"gemini-2.5-flash":       {0.30, 2.50},
	"gemini-2.5-flash-lite":  {0.10, 0.40},
	"gemini-3-flash-preview": {0.50, 3.00},
}

const defaultLLMPricingModel = "gemini-2.0-flash"

const (
	ttsPricePer1kChars            = 0.015
	sessionPricePerParticipantMin = 0.0035
)

// Entry is one usage event. Fields beyond the common set are
// service-specific and omitted when empty.
type Entry struct {
	Timestamp        time.Time `json:"timestamp"`
	Service          string    `json:"service"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	Characters       int       `json:"characters_count,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	RoomName         string    `json:"room_name,omitempty"`
	DurationSeconds  float64   `json:"duration_seconds,omitempty"`
	Participants     int       `json:"participant_count,omitempty"`
	CostUSD          float64   `json:"cost_usd"`
}

// Tracker appends entries to a JSONL log. Failures are logged, never
// returned: usage tracking must not break the voice loop.
type Tracker struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewTracker(path string, logger *slog.Logger) *Tracker {
	return &Tracker{path: path, logger: logger}
}

func (t *Tracker) LogLLM(model string, promptTokens, completionTokens int) {
	pricing, ok := llmPricing[model]
	if !ok {
		pricing = llmPricing[defaultLLMPricingModel]
	}
	cost := float64(promptTokens)/1e6*pricing.input + float64(completionTokens)/1e6*pricing.output
	t.append(Entry{
		Timestamp:        time.Now().UTC(),
		Service:          ServiceLLM,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          round6(cost),
	})
}

func (t *Tracker) LogTTS(model string, characters int) {
	t.append(Entry{
		Timestamp:  time.Now().UTC(),
		Service:    ServiceTTS,
		Model:      model,
		Characters: characters,
		CostUSD:    round6(float64(characters) / 1000 * ttsPricePer1kChars),
	})
}

func (t *Tracker) LogSession(sessionID, roomName string, duration time.Duration, participants int) {
	minutes := duration.Minutes()
	t.append(Entry{
		Timestamp:       time.Now().UTC(),
		Service:         ServiceSession,
		SessionID:       sessionID,
		RoomName:        roomName,
		DurationSeconds: math.Round(duration.Seconds()*100) / 100,
		Participants:    participants,
		CostUSD:         round6(minutes * float64(participants) * sessionPricePerParticipantMin),
	})
}

func (t *Tracker) append(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		t.logger.Warn("usage entry marshal failed", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		t.logger.Warn("usage log dir create failed", "error", err)
		return
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.logger.Warn("usage log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.logger.Warn("usage log write failed", "error", err)
	}
}

// ServiceSummary aggregates one service's entries.
type ServiceSummary struct {
	Count                int     `json:"count"`
	CostUSD              float64 `json:"cost_usd"`
	TotalTokens          int     `json:"total_tokens,omitempty"`
	TotalCharacters      int     `json:"total_characters,omitempty"`
	TotalDurationSeconds float64 `json:"total_duration_seconds,omitempty"`
}

// Summary is the aggregate over the whole log.
type Summary struct {
	TotalCostUSD  float64                   `json:"total_cost_usd"`
	TotalRequests int                       `json:"total_requests"`
	ByService     map[string]ServiceSummary `json:"by_service"`
}

// Summarize reads the log and aggregates by service. A missing log
// file yields an empty summary. Corrupt lines are skipped.
func (t *Tracker) Summarize() (Summary, error) {
	summary := Summary{ByService: make(map[string]ServiceSummary)}

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return summary, nil
		}
		return summary, fmt.Errorf("usage: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		svc := summary.ByService[entry.Service]
		svc.Count++
		svc.CostUSD = round4(svc.CostUSD + entry.CostUSD)
		svc.TotalTokens += entry.TotalTokens
		svc.TotalCharacters += entry.Characters
		svc.TotalDurationSeconds += entry.DurationSeconds
		summary.ByService[entry.Service] = svc

		summary.TotalCostUSD = round4(summary.TotalCostUSD + entry.CostUSD)
		summary.TotalRequests++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("usage: read log: %w", err)
	}
	return summary, nil
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
