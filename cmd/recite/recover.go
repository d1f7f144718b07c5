package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// recoverCmd replays pending ratings once and exits
func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay unsynced ratings to the flashcard backend",
		Long: `Push ratings still parked in the recovery store to the
flashcard backend, then exit. The serve and agent commands run the
same replay automatically when a session starts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd.Context())
		},
	}
}

func runRecover(ctx context.Context) error {
	logger := newLogger()

	stack, err := buildStack(ctx, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.maintenance(ctx)

	result, err := stack.syncer.RecoverPendingRatings(ctx)
	if err != nil {
		return fmt.Errorf("recovery replay: %w", err)
	}

	fmt.Printf("Recovered %d rating(s); %d still pending.\n", result.RecoveredCount, result.FailedCount)
	return nil
}
