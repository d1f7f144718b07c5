package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Flashcard adapter and review store selectors.
const (
	AdapterAnki  = "anki"
	AdapterLocal = "local"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration for recite
type Config struct {
	LLM         LLMConfig       `json:"llm"`
	TTS         TTSConfig       `json:"tts"`
	LiveKit     LiveKitConfig   `json:"livekit"`
	Flashcard   FlashcardConfig `json:"flashcard"`
	Recovery    RecoveryConfig  `json:"recovery"`
	Server      ServerConfig    `json:"server"`
	Environment string          `json:"environment"` // "development" or "production"
	UsagePath   string          `json:"usage_path"`  // JSONL usage log, empty disables tracking
	LogJSON     bool            `json:"log_json"`    // structured JSON logs instead of text
}

// LLMConfig holds the OpenAI-compatible LLM endpoint configuration
type LLMConfig struct {
	URL            string  `json:"url"`
	APIKey         string  `json:"api_key"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"` // hard cap per evaluate/hint call
}

// TTSConfig holds Text-to-Speech configuration (Kokoro via speaches)
type TTSConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
	Model  string `json:"model"` // e.g., "kokoro"
	Voice  string `json:"voice"` // e.g., "af_sarah"
}

// LiveKitConfig holds LiveKit server configuration
type LiveKitConfig struct {
	URL       string `json:"url"`        // WebSocket URL (e.g., ws://localhost:7880)
	APIKey    string `json:"api_key"`    // LiveKit API key
	APISecret string `json:"api_secret"` // LiveKit API secret
	AgentName string `json:"agent_name"` // dispatch target for the voice agent
}

// FlashcardConfig selects and configures the flashcard backend
type FlashcardConfig struct {
	Adapter        string `json:"adapter"`  // "anki" or "local"
	AnkiURL        string `json:"anki_url"` // AnkiConnect endpoint
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RecoveryConfig configures the durable review store
type RecoveryConfig struct {
	Store       string `json:"store"`   // "sqlite" or "postgres"
	DBPath      string `json:"db_path"` // SQLite file path
	PostgresURL string `json:"postgres_url"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".recite")

	return &Config{
		LLM: LLMConfig{
			URL:            "http://localhost:8000/v1",
			APIKey:         "",
			Model:          "gemini-2.0-flash",
			MaxTokens:      1024,
			Temperature:    0.3,
			TimeoutSeconds: 8,
		},
		TTS: TTSConfig{
			URL:    "http://localhost:8001/v1",
			APIKey: "",
			Model:  "kokoro",
			Voice:  "af_sarah",
		},
		LiveKit: LiveKitConfig{
			URL:       "",
			APIKey:    "",
			APISecret: "",
			AgentName: "recite-agent",
		},
		Flashcard: FlashcardConfig{
			Adapter:        AdapterAnki,
			AnkiURL:        "http://localhost:8765",
			TimeoutSeconds: 10,
		},
		Recovery: RecoveryConfig{
			Store:       StoreSQLite,
			DBPath:      filepath.Join(dataDir, "recovery.db"),
			PostgresURL: "",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Environment: "development",
		UsagePath:   filepath.Join(dataDir, "usage.jsonl"),
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	// LLM
	envString("RECITE_LLM_URL", &cfg.LLM.URL)
	envString("RECITE_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("RECITE_LLM_MODEL", &cfg.LLM.Model)
	envString("GEMINI_MODEL", &cfg.LLM.Model)
	envInt("RECITE_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("RECITE_LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envInt("RECITE_LLM_TIMEOUT_SECONDS", &cfg.LLM.TimeoutSeconds)

	// TTS
	envString("RECITE_TTS_URL", &cfg.TTS.URL)
	envString("RECITE_TTS_API_KEY", &cfg.TTS.APIKey)
	envString("RECITE_TTS_MODEL", &cfg.TTS.Model)
	envString("RECITE_TTS_VOICE", &cfg.TTS.Voice)

	// LiveKit
	envString("RECITE_LIVEKIT_URL", &cfg.LiveKit.URL)
	envString("RECITE_LIVEKIT_API_KEY", &cfg.LiveKit.APIKey)
	envString("RECITE_LIVEKIT_API_SECRET", &cfg.LiveKit.APISecret)
	envString("RECITE_LIVEKIT_AGENT_NAME", &cfg.LiveKit.AgentName)

	// Flashcard backend
	envString("FLASHCARD_ADAPTER", &cfg.Flashcard.Adapter)
	envString("RECITE_ANKI_URL", &cfg.Flashcard.AnkiURL)
	envInt("RECITE_ANKI_TIMEOUT_SECONDS", &cfg.Flashcard.TimeoutSeconds)

	// Review store
	envString("RECITE_REVIEW_STORE", &cfg.Recovery.Store)
	envString("RECOVERY_DB_PATH", &cfg.Recovery.DBPath)
	envString("RECITE_POSTGRES_URL", &cfg.Recovery.PostgresURL)

	// Server
	envString("RECITE_SERVER_HOST", &cfg.Server.Host)
	envInt("RECITE_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("ENVIRONMENT", &cfg.Environment)
	envString("RECITE_USAGE_PATH", &cfg.UsagePath)
	envBool("RECITE_LOG_JSON", &cfg.LogJSON)

	if cfg.Recovery.Store == StoreSQLite {
		dataDir := filepath.Dir(cfg.Recovery.DBPath)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether this is a production deployment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SessionTimeout is the inactivity window before a session expires:
// 30 minutes in production, 5 in development.
func (c *Config) SessionTimeout() time.Duration {
	if c.IsProduction() {
		return 30 * time.Minute
	}
	return 5 * time.Minute
}

// IsLiveKitConfigured returns true if LiveKit is properly configured
func (c *Config) IsLiveKitConfigured() bool {
	return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

// IsTTSConfigured returns true if TTS (text-to-speech) is configured
func (c *Config) IsTTSConfigured() bool {
	return c.TTS.URL != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.Environment != "development" && c.Environment != "production" {
		errs = append(errs, "environment must be 'development' or 'production'")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}
	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}
	if c.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "LLM timeout must be at least 1 second")
	}

	switch c.Flashcard.Adapter {
	case AdapterAnki:
		if c.Flashcard.AnkiURL == "" {
			errs = append(errs, "Anki URL is required for the anki adapter")
		} else if !isValidURL(c.Flashcard.AnkiURL) {
			errs = append(errs, "Anki URL must be a valid URL")
		}
	case AdapterLocal:
	default:
		errs = append(errs, fmt.Sprintf("flashcard adapter must be '%s' or '%s'", AdapterAnki, AdapterLocal))
	}

	switch c.Recovery.Store {
	case StoreSQLite:
		if c.Recovery.DBPath == "" {
			errs = append(errs, "recovery DB path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Recovery.PostgresURL == "" {
			errs = append(errs, "PostgreSQL URL is required for the postgres store")
		} else if !isValidURL(c.Recovery.PostgresURL) {
			errs = append(errs, "PostgreSQL URL must be a valid URL")
		}
	default:
		errs = append(errs, fmt.Sprintf("review store must be '%s' or '%s'", StoreSQLite, StorePostgres))
	}

	if c.LiveKit.URL != "" {
		if !isValidURL(c.LiveKit.URL) {
			errs = append(errs, "LiveKit URL must be a valid URL")
		}
		if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
			errs = append(errs, "LiveKit API key and secret are required when URL is set")
		}
	}

	if c.TTS.URL != "" && !isValidURL(c.TTS.URL) {
		errs = append(errs, "TTS URL must be a valid URL")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("RECITE_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	// Check ~/.config/recite/config.json first
	configDir := filepath.Join(homeDir, ".config", "recite")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// Check ~/.recite/config.json
	altPath := filepath.Join(homeDir, ".recite", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
