package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/recite/internal/adapters/livekit"
	"github.com/longregen/recite/internal/server"
)

// serveCmd starts the HTTP API server and the realtime agent
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the session API and voice agent",
		Long: `Start the Recite HTTP API server.

The server provides REST endpoints for session and deck management,
mirrors session events to browser clients over /ws, and, when LiveKit
is configured, runs the voice agent worker that joins review rooms.

Required configuration:
  - Flashcard backend (FLASHCARD_ADAPTER, RECITE_ANKI_URL)
  - LLM endpoint (RECITE_LLM_URL)

Optional:
  - LiveKit (RECITE_LIVEKIT_URL, RECITE_LIVEKIT_API_KEY, RECITE_LIVEKIT_API_SECRET)
  - TTS via speaches (RECITE_TTS_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	logger := newLogger()
	logger.Info("starting recite API server",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"environment", cfg.Environment,
		"flashcards", cfg.Flashcard.Adapter,
		"livekit", cfg.IsLiveKitConfigured(),
	)

	stack, err := buildStack(ctx, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.maintenance(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	factory := stack.orchestratorFactory()

	// Browser clients get the same session events over /ws that a
	// LiveKit room would carry, fed by a hub-bound orchestrator.
	hub := server.NewHub()
	hubPublisher := livekit.NewPublisher(hub, stack.ids.GenerateMessageID, logger.With("channel", "ws"))
	hubSpeaker := livekit.NewSpeaker(stack.tts, hubPublisher, hub, logger.With("channel", "ws"))
	hubOrch := factory(hubPublisher, hubSpeaker)
	hubRouter := livekit.NewRouter(hubOrch, logger.With("channel", "ws"))
	go func() {
		if err := hubOrch.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("hub orchestrator stopped", "error", err)
		}
	}()

	var rtc server.RTCService
	if stack.rtc != nil {
		rtc = stack.rtc
	}
	var usageSrc server.UsageSource
	if stack.tracker != nil {
		usageSrc = stack.tracker
	}

	handlers := server.NewHandlers(stack.sessions, stack.flashcards, rtc, usageSrc, cfg.Environment, logger)
	srv := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, handlers, hub, hubRouter, logger)

	// The agent worker joins LiveKit review rooms as they appear.
	if stack.rtc != nil {
		worker, err := livekit.NewWorker(&livekit.ServiceConfig{
			URL:                   cfg.LiveKit.URL,
			APIKey:                cfg.LiveKit.APIKey,
			APISecret:             cfg.LiveKit.APISecret,
			AgentName:             cfg.LiveKit.AgentName,
			TokenValidityDuration: 6 * time.Hour,
		}, stack.rtc, stack.tts, stack.ids.GenerateMessageID, factory, logger)
		if err != nil {
			return fmt.Errorf("agent worker: %w", err)
		}
		go func() {
			if err := worker.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Error("agent worker stopped", "error", err)
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Sync whatever the active session collected before exiting.
		if ended := stack.sessions.ForceEndAll(shutdownCtx); ended > 0 {
			logger.Info("ended active sessions", "count", ended)
		}

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}
