// Package llm grades answers and generates hints, explanations and
// mnemonics through an OpenAI-compatible chat completion API.
package llm

import (
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint; any
	// compatible provider works.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel   = "gemini-2.0-flash"

	// The voice loop is latency-critical; a grading call that takes
	// longer than this is worse than the degraded fallback.
	defaultTimeout = 8 * time.Second
)

type clientConfig struct {
	model   string
	timeout time.Duration
}

// Option configures the client.
type Option func(*clientConfig)

func WithModel(model string) Option {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func newClient(baseURL, apiKey string, opts ...Option) (*openai.Client, clientConfig) {
	cfg := clientConfig{
		model:   DefaultModel,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	openaiCfg := openai.DefaultConfig(apiKey)
	openaiCfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	openaiCfg.HTTPClient = &http.Client{Timeout: cfg.timeout}
	return openai.NewClientWithConfig(openaiCfg), cfg
}
