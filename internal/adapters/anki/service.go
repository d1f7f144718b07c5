package anki

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/longregen/recite/internal/domain/models"
)

// maxConcurrentQueries bounds parallel findCards calls so deck listing
// does not overwhelm the AnkiConnect addon.
const maxConcurrentQueries = 10

// Service implements ports.FlashcardService against a running Anki
// desktop with the AnkiConnect addon.
type Service struct {
	client *client
	logger *slog.Logger
}

func NewService(url string, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		client: newClient(url, timeout),
		logger: logger,
	}
}

// WaitForConnection polls the version action until Anki answers or the
// attempts run out. Used at startup when Anki may still be launching.
func (s *Service) WaitForConnection(ctx context.Context, maxRetries int, retryDelay time.Duration) bool {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var version int
		if err := s.client.invoke(ctx, "version", nil, &version); err == nil {
			s.logger.Info("ankiconnect available", "attempt", attempt, "version", version)
			return true
		} else {
			s.logger.Warn("ankiconnect not ready", "attempt", attempt, "max_retries", maxRetries, "error", err)
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(retryDelay):
			}
		}
	}
	return false
}

func (s *Service) GetDecks(ctx context.Context) ([]string, error) {
	var decks []string
	if err := s.client.invoke(ctx, "deckNames", nil, &decks); err != nil {
		return nil, err
	}
	return decks, nil
}

type findCardsParams struct {
	Query string `json:"query"`
}

func (s *Service) findCards(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := s.client.invoke(ctx, "findCards", findCardsParams{Query: query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetReviewableCards returns the deck's cards in Anki's study order:
// learning first, then due reviews, then new cards.
func (s *Service) GetReviewableCards(ctx context.Context, deckName string) ([]models.Card, error) {
	var learn, due, fresh []int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		learn, err = s.findCards(gctx, fmt.Sprintf("%q is:learn", "deck:"+deckName))
		return err
	})
	g.Go(func() (err error) {
		due, err = s.findCards(gctx, fmt.Sprintf("%q is:due", "deck:"+deckName))
		return err
	})
	g.Go(func() (err error) {
		fresh, err = s.findCards(gctx, fmt.Sprintf("%q is:new", "deck:"+deckName))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Priority order with first-occurrence dedup.
	seen := make(map[int64]bool)
	var ids []int64
	for _, batch := range [][]int64{learn, due, fresh} {
		for _, id := range batch {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var infos []cardInfo
	if err := s.client.invoke(ctx, "cardsInfo", map[string]any{"cards": ids}, &infos); err != nil {
		return nil, err
	}

	cards := make([]models.Card, 0, len(infos))
	for _, info := range infos {
		cards = append(cards, parseCard(info))
	}
	return cards, nil
}

type reviewAnswer struct {
	CardID int64 `json:"cardId"`
	Ease   int   `json:"ease"`
}

func (s *Service) SubmitReview(ctx context.Context, cardID int64, rating models.Rating) error {
	return s.client.invoke(ctx, "answerCards",
		map[string]any{"answers": []reviewAnswer{{CardID: cardID, Ease: int(rating)}}}, nil)
}

func (s *Service) GetCardImage(ctx context.Context, filename string) ([]byte, string, error) {
	// Media filenames come from card HTML; reject anything path-like.
	if filepath.Base(filename) != filename || strings.Contains(filename, "..") {
		return nil, "", fmt.Errorf("ankiconnect: invalid media filename %q", filename)
	}

	var encoded string
	if err := s.client.invoke(ctx, "retrieveMediaFile", map[string]any{"filename": filename}, &encoded); err != nil {
		return nil, "", err
	}
	if encoded == "" {
		return nil, "", fmt.Errorf("ankiconnect: media file %q not found", filename)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("ankiconnect: decode media file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// Sync triggers an AnkiWeb sync. Best effort.
func (s *Service) Sync(ctx context.Context) bool {
	if err := s.client.invoke(ctx, "sync", nil, nil); err != nil {
		s.logger.Warn("ankiweb sync failed", "error", err)
		return false
	}
	return true
}

// GetDecksWithCardCounts returns per-deck new/learn/due counts sorted
// by total, busiest deck first.
func (s *Service) GetDecksWithCardCounts(ctx context.Context) ([]models.DeckStats, error) {
	decks, err := s.GetDecks(ctx)
	if err != nil {
		return nil, err
	}
	if len(decks) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(maxConcurrentQueries)
	stats := make([]models.DeckStats, len(decks))
	g, gctx := errgroup.WithContext(ctx)
	for i, deck := range decks {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			var st models.DeckStats
			st.Name = deck
			for _, q := range []struct {
				suffix string
				count  *int
			}{
				{"is:new", &st.NewCount},
				{"is:learn", &st.LearnCount},
				{"is:due", &st.DueCount},
			} {
				ids, err := s.findCards(gctx, fmt.Sprintf("%q %s", "deck:"+deck, q.suffix))
				if err != nil {
					return err
				}
				*q.count = len(ids)
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].TotalCount() > stats[j].TotalCount()
	})
	return stats, nil
}

type cardField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type cardInfo struct {
	CardID   int64                `json:"cardId"`
	DeckName string               `json:"deckName"`
	Fields   map[string]cardField `json:"fields"`
	Queue    int                  `json:"queue"`
	Due      int                  `json:"due"`
}

var imgSrcRe = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)

func parseCard(info cardInfo) models.Card {
	front := fieldValue(info.Fields, "Front", "front")
	back := fieldValue(info.Fields, "Back", "back")

	var imageFilename string
	for _, field := range info.Fields {
		if m := imgSrcRe.FindStringSubmatch(field.Value); m != nil {
			name := m[1]
			if filepath.Base(name) == name && !strings.Contains(name, "..") {
				imageFilename = name
			}
			break
		}
	}

	frontText := stripHTML(front, false)
	if imageFilename != "" && strings.TrimSpace(frontText) == "" {
		frontText = "What do you see in this image?"
	}

	return models.Card{
		ID:            info.CardID,
		DeckName:      info.DeckName,
		Front:         frontText,
		Back:          stripHTML(back, true),
		ImageFilename: imageFilename,
		Queue:         info.Queue,
		Due:           info.Due,
	}
}

func fieldValue(fields map[string]cardField, names ...string) string {
	for _, name := range names {
		if f, ok := fields[name]; ok {
			return f.Value
		}
	}
	return ""
}

var (
	brRe        = regexp.MustCompile(`(?i)<br\s*/?>`)
	liOpenRe    = regexp.MustCompile(`(?i)<li[^>]*>`)
	liCloseRe   = regexp.MustCompile(`(?i)</li>`)
	listRe      = regexp.MustCompile(`(?i)</?[uo]l[^>]*>`)
	pOpenRe     = regexp.MustCompile(`(?i)<p[^>]*>`)
	pCloseRe    = regexp.MustCompile(`(?i)</p>`)
	divOpenRe   = regexp.MustCompile(`(?i)<div[^>]*>`)
	divCloseRe  = regexp.MustCompile(`(?i)</div>`)
	keepInlineRe = regexp.MustCompile(`<(?:/?)(?:b|strong|em|i)(?:\s[^>]*)?>`)
	anyTagRe    = regexp.MustCompile(`<[^>]+>`)
	multiNLRe   = regexp.MustCompile(`\n{3,}`)
)

// stripHTML removes markup from a card field. With preserveFormatting,
// inline emphasis tags survive and block elements become newlines or
// bullets, so the answer display keeps its structure.
func stripHTML(text string, preserveFormatting bool) string {
	clean := text

	if preserveFormatting {
		clean = brRe.ReplaceAllString(clean, "\n")
		clean = liOpenRe.ReplaceAllString(clean, "• ")
		clean = liCloseRe.ReplaceAllString(clean, "\n")
		clean = listRe.ReplaceAllString(clean, "")
		clean = pOpenRe.ReplaceAllString(clean, "")
		clean = pCloseRe.ReplaceAllString(clean, "\n")
		clean = divOpenRe.ReplaceAllString(clean, "")
		clean = divCloseRe.ReplaceAllString(clean, "\n")
		// Protect inline emphasis, strip everything else, restore.
		clean = keepInlineRe.ReplaceAllStringFunc(clean, func(tag string) string {
			return "\x00" + tag[1:len(tag)-1] + "\x01"
		})
		clean = anyTagRe.ReplaceAllString(clean, "")
		clean = strings.ReplaceAll(clean, "\x00", "<")
		clean = strings.ReplaceAll(clean, "\x01", ">")
	} else {
		clean = anyTagRe.ReplaceAllString(clean, "")
	}

	clean = html.UnescapeString(clean)
	clean = normalizeForSpeech(clean)
	clean = multiNLRe.ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean)
}

func normalizeForSpeech(s string) string {
	replacer := strings.NewReplacer(
		" ", " ",
		"’", "'",
		"‘", "'",
		"“", `"`,
		"”", `"`,
		"—", "-",
	)
	return replacer.Replace(s)
}
