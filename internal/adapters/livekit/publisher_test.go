package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

type captureSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (c *captureSender) SendData(_ context.Context, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureSender) last(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, c.sent)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(c.sent[len(c.sent)-1], &msg))
	return msg
}

func newTestPublisher() (*Publisher, *captureSender) {
	sender := &captureSender{}
	n := 0
	newID := func() string {
		n++
		return fmt.Sprintf("msg_%d", n)
	}
	return NewPublisher(sender, newID, slog.New(slog.DiscardHandler)), sender
}

func TestPublishCard(t *testing.T) {
	pub, sender := newTestPublisher()

	rating := models.RatingGood
	err := pub.PublishCard(context.Background(), models.Card{
		ID:       42,
		DeckName: "Biology Basics",
		Front:    "<b>What is ATP?</b>",
		Back:     "Adenosine triphosphate",
	}, ports.Progress{CardsReviewed: 3, CardsRemaining: 7}, &rating)
	require.NoError(t, err)

	msg := sender.last(t)
	assert.Equal(t, "card", msg["type"])
	card := msg["card"].(map[string]any)
	assert.Equal(t, float64(42), card["id"])
	assert.Equal(t, "<b>What is ATP?</b>", card["question_html"])
	assert.Equal(t, "Adenosine triphosphate", card["answer_html"])
	assert.Equal(t, float64(3), msg["last_rating"])
	progress := msg["progress"].(map[string]any)
	assert.Equal(t, float64(7), progress["cards_remaining"])
}

func TestPublishCard_NoLastRating(t *testing.T) {
	pub, sender := newTestPublisher()

	require.NoError(t, pub.PublishCard(context.Background(), models.Card{ID: 1}, ports.Progress{}, nil))
	assert.Nil(t, sender.last(t)["last_rating"])
}

func TestPublishAgentMessage_DeduplicatesRecentText(t *testing.T) {
	pub, sender := newTestPublisher()

	id1, err := pub.PublishAgentMessage(context.Background(), "Correct, well done!")
	require.NoError(t, err)
	id2, err := pub.PublishAgentMessage(context.Background(), "Correct, well done!")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, sender.sent, 1, "duplicate text must not be republished")

	msg := sender.last(t)
	assert.Equal(t, "agent_message", msg["type"])
	assert.Equal(t, id1, msg["id"])
}

func TestPublishAgentMessage_DistinctTextsGetDistinctIDs(t *testing.T) {
	pub, sender := newTestPublisher()

	id1, err := pub.PublishAgentMessage(context.Background(), "First response")
	require.NoError(t, err)
	id2, err := pub.PublishAgentMessage(context.Background(), "Second response")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Len(t, sender.sent, 2)
}

func TestPublishAgentMessage_EmptyTextIsNoop(t *testing.T) {
	pub, sender := newTestPublisher()

	id, err := pub.PublishAgentMessage(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, sender.sent)
}

func TestPublishRatingResult(t *testing.T) {
	pub, sender := newTestPublisher()

	err := pub.PublishRatingResult(context.Background(), models.RatingHard,
		"Close, but not quite.", "Mitochondria", "It powers the cell.",
		ports.Progress{CardsReviewed: 1, CardsRemaining: 4})
	require.NoError(t, err)

	msg := sender.last(t)
	assert.Equal(t, "rating_result", msg["type"])
	assert.Equal(t, float64(2), msg["rating"])
	assert.Equal(t, "Close, but not quite.", msg["feedback"])
	assert.Equal(t, "Mitochondria", msg["card_back"])
	assert.Equal(t, "It powers the cell.", msg["answer_summary"])
}

func TestPublishSessionComplete(t *testing.T) {
	pub, sender := newTestPublisher()

	err := pub.PublishSessionComplete(context.Background(), models.SessionStats{
		CardsReviewed:   5,
		Ratings:         map[string]int{"easy": 2, "good": 2, "hard": 1, "again": 0},
		SyncedCount:     5,
		DurationMinutes: 3,
	})
	require.NoError(t, err)

	msg := sender.last(t)
	assert.Equal(t, "session_complete", msg["type"])
	stats := msg["stats"].(map[string]any)
	assert.Equal(t, float64(5), stats["cards_reviewed"])
	assert.Equal(t, float64(5), stats["synced_count"])
}

func TestPublishStateMessages(t *testing.T) {
	pub, sender := newTestPublisher()

	require.NoError(t, pub.PublishSpeakingState(context.Background(), true))
	msg := sender.last(t)
	assert.Equal(t, "agent_speaking_state", msg["type"])
	assert.Equal(t, true, msg["speaking"])

	require.NoError(t, pub.PublishPTTState(context.Background(), true))
	msg = sender.last(t)
	assert.Equal(t, "ptt_state", msg["type"])
	assert.Equal(t, true, msg["recording"])

	require.NoError(t, pub.PublishUserTranscript(context.Background(), "the powerhouse", "voice"))
	msg = sender.last(t)
	assert.Equal(t, "user_transcript", msg["type"])
	assert.Equal(t, "voice", msg["source"])
}

func TestTextHash_UsesPrefixOnly(t *testing.T) {
	long1 := "This is a long agent response that continues one way."
	long2 := "This is a long agent response that continues differently."

	// Same first 30 chars hash equal; a different prefix does not.
	assert.Equal(t, textHash(long1), textHash(long2))
	assert.NotEqual(t, textHash(long1), textHash("Another opening entirely"))
	assert.Len(t, textHash("short"), 16)
}
