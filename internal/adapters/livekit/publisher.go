package livekit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/longregen/recite/internal/domain/models"
	"github.com/longregen/recite/internal/ports"
)

// ResponseTopic is the data-channel topic for all server-to-client
// UI messages.
const ResponseTopic = "agent-response"

// dedupWindow is how long a published agent message suppresses an
// identical one. The speech pipeline can surface the same text twice
// within a turn.
const dedupWindow = 30 * time.Second

// DataSender sends one reliable data payload to the room.
type DataSender interface {
	SendData(ctx context.Context, data []byte) error
}

// roomSender publishes over a connected room's data channel.
type roomSender struct {
	room *lksdk.Room
}

func (r *roomSender) SendData(_ context.Context, data []byte) error {
	return r.room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(data),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(ResponseTopic),
	)
}

// Publisher implements ports.EventPublisher over the LiveKit data
// channel. Agent messages are deduplicated by text hash so the UI
// never renders the same utterance twice.
type Publisher struct {
	sender DataSender
	newID  func() string
	logger *slog.Logger

	mu     sync.Mutex
	recent map[string]publishedMessage
}

type publishedMessage struct {
	id string
	at time.Time
}

func NewPublisher(sender DataSender, newID func() string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sender: sender,
		newID:  newID,
		logger: logger,
		recent: make(map[string]publishedMessage),
	}
}

// NewRoomPublisher wraps a connected room.
func NewRoomPublisher(room *lksdk.Room, newID func() string, logger *slog.Logger) *Publisher {
	return NewPublisher(&roomSender{room: room}, newID, logger)
}

type cardPayload struct {
	ID           int64  `json:"id"`
	QuestionHTML string `json:"question_html"`
	AnswerHTML   string `json:"answer_html"`
	DeckName     string `json:"deck_name,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
}

func (p *Publisher) PublishCard(ctx context.Context, card models.Card, progress ports.Progress, lastRating *models.Rating) error {
	msg := struct {
		Type       string         `json:"type"`
		Card       cardPayload    `json:"card"`
		Progress   ports.Progress `json:"progress"`
		LastRating *int           `json:"last_rating"`
	}{
		Type: "card",
		Card: cardPayload{
			ID:           card.ID,
			QuestionHTML: card.Front,
			AnswerHTML:   card.Back,
			DeckName:     card.DeckName,
			ImageURL:     card.ImageFilename,
		},
		Progress: progress,
	}
	if lastRating != nil {
		r := int(*lastRating)
		msg.LastRating = &r
	}
	return p.send(ctx, msg)
}

func (p *Publisher) PublishRatingResult(ctx context.Context, rating models.Rating, feedback, cardBack, answerSummary string, progress ports.Progress) error {
	return p.send(ctx, struct {
		Type          string         `json:"type"`
		Rating        int            `json:"rating"`
		Feedback      string         `json:"feedback"`
		CardBack      string         `json:"card_back"`
		AnswerSummary string         `json:"answer_summary"`
		Progress      ports.Progress `json:"progress"`
	}{"rating_result", int(rating), feedback, cardBack, answerSummary, progress})
}

func (p *Publisher) PublishRevealAnswer(ctx context.Context, cardBack string, progress ports.Progress) error {
	return p.send(ctx, struct {
		Type     string         `json:"type"`
		CardBack string         `json:"card_back"`
		Progress ports.Progress `json:"progress"`
	}{"reveal_answer", cardBack, progress})
}

// PublishAgentMessage publishes text to the UI panel and returns the
// message id. A repeat of recent text is suppressed and returns the
// original id.
func (p *Publisher) PublishAgentMessage(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	hash := textHash(text)
	p.mu.Lock()
	if prev, ok := p.recent[hash]; ok {
		if time.Since(prev.at) < dedupWindow {
			p.mu.Unlock()
			p.logger.Debug("suppressing duplicate agent message", "hash", hash)
			return prev.id, nil
		}
		delete(p.recent, hash)
	}
	msgID := p.newID()
	p.recent[hash] = publishedMessage{id: msgID, at: time.Now()}
	p.pruneLocked()
	p.mu.Unlock()

	err := p.send(ctx, struct {
		Type string `json:"type"`
		Text string `json:"text"`
		ID   string `json:"id"`
	}{"agent_message", text, msgID})
	if err != nil {
		return "", err
	}
	return msgID, nil
}

func (p *Publisher) PublishUserTranscript(ctx context.Context, text, source string) error {
	return p.send(ctx, struct {
		Type   string `json:"type"`
		Text   string `json:"text"`
		Source string `json:"source"`
	}{"user_transcript", text, source})
}

func (p *Publisher) PublishSpeakingState(ctx context.Context, speaking bool) error {
	return p.send(ctx, struct {
		Type     string `json:"type"`
		Speaking bool   `json:"speaking"`
	}{"agent_speaking_state", speaking})
}

func (p *Publisher) PublishPTTState(ctx context.Context, recording bool) error {
	return p.send(ctx, struct {
		Type      string `json:"type"`
		Recording bool   `json:"recording"`
	}{"ptt_state", recording})
}

func (p *Publisher) PublishSessionComplete(ctx context.Context, stats models.SessionStats) error {
	return p.send(ctx, struct {
		Type  string              `json:"type"`
		Stats models.SessionStats `json:"stats"`
	}{"session_complete", stats})
}

func (p *Publisher) PublishError(ctx context.Context, message string) error {
	return p.send(ctx, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"error", message})
}

func (p *Publisher) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal data message: %w", err)
	}
	if err := p.sender.SendData(ctx, data); err != nil {
		return fmt.Errorf("publish data message: %w", err)
	}
	return nil
}

func (p *Publisher) pruneLocked() {
	now := time.Now()
	for h, m := range p.recent {
		if now.Sub(m.at) > dedupWindow {
			delete(p.recent, h)
		}
	}
}

// textHash keys dedup on a prefix: downstream events can truncate long
// texts, and 30 chars is enough to tell utterances apart.
func textHash(text string) string {
	prefix := text
	if len(prefix) > 30 {
		prefix = prefix[:30]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:])[:16]
}
