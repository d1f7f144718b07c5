// Package localdeck is a FlashcardService backed by an embedded test
// deck, for development and demos without a running Anki.
package localdeck

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/longregen/recite/internal/domain/models"
)

//go:embed data/test_deck.json
var testDeckJSON []byte

type deckFile struct {
	Decks []struct {
		Name  string `json:"name"`
		Cards []struct {
			ID    int64  `json:"id"`
			Front string `json:"front"`
			Back  string `json:"back"`
		} `json:"cards"`
	} `json:"decks"`
}

// Service serves the embedded cards. Every card is always due; ratings
// are accepted and kept in memory only.
type Service struct {
	mu      sync.Mutex
	cards   []models.Card
	reviews map[int64]models.Rating
	logger  *slog.Logger
}

func NewService(logger *slog.Logger) (*Service, error) {
	var file deckFile
	if err := json.Unmarshal(testDeckJSON, &file); err != nil {
		return nil, fmt.Errorf("localdeck: parse embedded deck: %w", err)
	}

	var cards []models.Card
	for _, deck := range file.Decks {
		for _, c := range deck.Cards {
			cards = append(cards, models.Card{
				ID:       c.ID,
				DeckName: deck.Name,
				Front:    c.Front,
				Back:     c.Back,
				Queue:    models.QueueReview,
			})
		}
	}
	logger.Info("local test deck loaded", "cards", len(cards))
	return &Service{cards: cards, reviews: make(map[int64]models.Rating), logger: logger}, nil
}

func (s *Service) GetDecks(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var decks []string
	for _, c := range s.cards {
		if !seen[c.DeckName] {
			seen[c.DeckName] = true
			decks = append(decks, c.DeckName)
		}
	}
	return decks, nil
}

func (s *Service) GetReviewableCards(ctx context.Context, deckName string) ([]models.Card, error) {
	if deckName == "All" || deckName == "" {
		return append([]models.Card(nil), s.cards...), nil
	}
	var cards []models.Card
	for _, c := range s.cards {
		if c.DeckName == deckName {
			cards = append(cards, c)
		}
	}
	return cards, nil
}

func (s *Service) SubmitReview(ctx context.Context, cardID int64, rating models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.ID == cardID {
			s.reviews[cardID] = rating
			return nil
		}
	}
	return fmt.Errorf("localdeck: unknown card %d", cardID)
}

func (s *Service) GetCardImage(ctx context.Context, filename string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("localdeck: no media files")
}

func (s *Service) GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error) {
	byDeck := make(map[string]*models.DeckStats)
	var order []string
	for _, c := range s.cards {
		st, ok := byDeck[c.DeckName]
		if !ok {
			st = &models.DeckStats{Name: c.DeckName}
			byDeck[c.DeckName] = st
			order = append(order, c.DeckName)
		}
		st.DueCount++
	}
	stats := make([]models.DeckStats, 0, len(order))
	for _, name := range order {
		stats = append(stats, *byDeck[name])
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].TotalCount() > stats[j].TotalCount()
	})
	return stats, nil
}
