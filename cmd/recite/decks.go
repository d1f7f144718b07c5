package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// decksCmd lists the decks the flashcard backend exposes
func decksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decks",
		Short: "List decks with card counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecks(cmd.Context())
		},
	}
}

func runDecks(ctx context.Context) error {
	logger := newLogger()

	stack, err := buildStack(ctx, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	decks, err := stack.flashcards.GetDecksWithCardCounts(ctx)
	if err != nil {
		return fmt.Errorf("list decks: %w", err)
	}
	if len(decks) == 0 {
		fmt.Println("No decks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DECK\tNEW\tLEARN\tDUE\tTOTAL")
	for _, d := range decks {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", d.Name, d.NewCount, d.LearnCount, d.DueCount, d.TotalCount())
	}
	return w.Flush()
}
