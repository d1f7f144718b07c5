package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/longregen/recite/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recite",
		Short: "Recite - voice-first spaced-repetition tutor",
		Long: `Recite runs voice review sessions over your Anki decks.
It serves the session API, joins LiveKit rooms as the tutoring agent,
grades spoken answers with an LLM and keeps ratings durable until
they reach the flashcard backend.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		agentCmd(),
		decksCmd(),
		recoverCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("TTS (Text-to-Speech):")
			fmt.Printf("  URL:     %s\n", cfg.TTS.URL)
			fmt.Printf("  Model:   %s\n", cfg.TTS.Model)
			fmt.Printf("  Voice:   %s\n", cfg.TTS.Voice)
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.IsTTSConfigured()))
			fmt.Println()

			fmt.Println("LiveKit:")
			fmt.Printf("  URL:        %s\n", cfg.LiveKit.URL)
			fmt.Printf("  API Key:    %s\n", maskSecret(cfg.LiveKit.APIKey))
			fmt.Printf("  API Secret: %s\n", maskSecret(cfg.LiveKit.APISecret))
			fmt.Printf("  Agent:      %s\n", cfg.LiveKit.AgentName)
			fmt.Printf("  Status:     %s\n", boolStatus(cfg.IsLiveKitConfigured()))
			fmt.Println()

			fmt.Println("Flashcards:")
			fmt.Printf("  Adapter:  %s\n", cfg.Flashcard.Adapter)
			fmt.Printf("  Anki URL: %s\n", cfg.Flashcard.AnkiURL)
			fmt.Println()

			fmt.Println("Recovery store:")
			fmt.Printf("  Store:       %s\n", cfg.Recovery.Store)
			fmt.Printf("  SQLite Path: %s\n", cfg.Recovery.DBPath)
			fmt.Printf("  PostgreSQL:  %s\n", maskSecret(cfg.Recovery.PostgresURL))
			fmt.Println()

			fmt.Printf("Environment:     %s\n", cfg.Environment)
			fmt.Printf("Session timeout: %s\n", cfg.SessionTimeout())
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  RECITE_LLM_URL, RECITE_LLM_API_KEY, RECITE_LLM_MODEL, GEMINI_MODEL")
			fmt.Println("  RECITE_TTS_URL, RECITE_TTS_MODEL, RECITE_TTS_VOICE")
			fmt.Println("  RECITE_LIVEKIT_URL, RECITE_LIVEKIT_API_KEY, RECITE_LIVEKIT_API_SECRET")
			fmt.Println("  FLASHCARD_ADAPTER, RECITE_ANKI_URL")
			fmt.Println("  RECITE_REVIEW_STORE, RECOVERY_DB_PATH, RECITE_POSTGRES_URL")
			fmt.Println("  RECITE_SERVER_HOST, RECITE_SERVER_PORT, CORS_ORIGINS, ENVIRONMENT")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Recite %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
