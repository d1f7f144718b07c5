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
)

// agentCmd runs only the LiveKit voice agent worker, for deployments
// that split the API process from the agent process.
func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the voice agent worker",
		Long: `Run the LiveKit agent worker without the HTTP API.

The worker polls for review rooms with a learner waiting, joins each
as the tutoring agent and drives the voice session loop. Requires
LiveKit credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func runAgent(ctx context.Context) error {
	logger := newLogger()

	if !cfg.IsLiveKitConfigured() {
		return fmt.Errorf("agent mode requires LiveKit. Set RECITE_LIVEKIT_URL, RECITE_LIVEKIT_API_KEY and RECITE_LIVEKIT_API_SECRET")
	}

	stack, err := buildStack(ctx, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.maintenance(ctx)

	if stack.rtc == nil {
		return fmt.Errorf("livekit service failed to initialize")
	}

	worker, err := livekit.NewWorker(&livekit.ServiceConfig{
		URL:                   cfg.LiveKit.URL,
		APIKey:                cfg.LiveKit.APIKey,
		APISecret:             cfg.LiveKit.APISecret,
		AgentName:             cfg.LiveKit.AgentName,
		TokenValidityDuration: 6 * time.Hour,
	}, stack.rtc, stack.tts, stack.ids.GenerateMessageID, stack.orchestratorFactory(), logger)
	if err != nil {
		return fmt.Errorf("agent worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := worker.Run(runCtx); err != nil && runCtx.Err() == nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if ended := stack.sessions.ForceEndAll(shutdownCtx); ended > 0 {
		logger.Info("ended active sessions", "count", ended)
	}
	return nil
}
