package livekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/recite/internal/ports"
)

// Speaker delivers synthesized speech over the data channel. Audio is
// shipped as one message per utterance (base64 pcm) and the client
// plays it; speaking-state events bracket the playback window so the
// UI can show the talking indicator and gate barge-in.
type Speaker struct {
	tts       ports.TTSService
	publisher *Publisher
	sender    DataSender
	logger    *slog.Logger

	mu        sync.Mutex
	interrupt context.CancelFunc
}

func NewSpeaker(tts ports.TTSService, publisher *Publisher, sender DataSender, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		tts:       tts,
		publisher: publisher,
		sender:    sender,
		logger:    logger,
	}
}

type audioMessage struct {
	Type       string `json:"type"`
	Audio      []byte `json:"audio"`
	Format     string `json:"format"`
	DurationMs int    `json:"duration_ms"`
}

// Say synthesizes text and publishes it, then holds until the client
// has had time to play it. Interrupt (or ctx) cuts the hold short.
func (s *Speaker) Say(ctx context.Context, text string) error {
	if s.tts == nil {
		// Text-only mode: the transcript already went out as an
		// agent_message.
		return nil
	}

	playCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.interrupt != nil {
		s.interrupt()
	}
	s.interrupt = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.interrupt != nil {
			s.interrupt = nil
		}
		s.mu.Unlock()
	}()

	result, err := s.tts.Synthesize(playCtx, text)
	if err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}

	if err := s.publisher.PublishSpeakingState(playCtx, true); err != nil {
		s.logger.Warn("failed to publish speaking state", "error", err)
	}
	defer func() {
		if err := s.publisher.PublishSpeakingState(context.WithoutCancel(ctx), false); err != nil {
			s.logger.Warn("failed to publish speaking state", "error", err)
		}
	}()

	if err := s.sendJSON(playCtx, audioMessage{
		Type:       "agent_audio",
		Audio:      result.Audio,
		Format:     result.Format,
		DurationMs: result.DurationMs,
	}); err != nil {
		return fmt.Errorf("publish audio: %w", err)
	}

	select {
	case <-playCtx.Done():
		if ctx.Err() == nil {
			// Barge-in: tell the client to stop playback now.
			if err := s.sendJSON(context.WithoutCancel(ctx), struct {
				Type string `json:"type"`
			}{"stop_playback"}); err != nil {
				s.logger.Warn("failed to publish stop playback", "error", err)
			}
		}
		return playCtx.Err()
	case <-time.After(time.Duration(result.DurationMs) * time.Millisecond):
		return nil
	}
}

// Interrupt stops the current utterance, if any.
func (s *Speaker) Interrupt() {
	s.mu.Lock()
	cancel := s.interrupt
	s.interrupt = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetAudioInputEnabled tells the client to open or close the mic.
func (s *Speaker) SetAudioInputEnabled(enabled bool) {
	if err := s.sendJSON(context.Background(), struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
	}{"audio_input_state", enabled}); err != nil {
		s.logger.Warn("failed to publish audio input state", "error", err)
	}
}

// ClearUserTurn tells the client to drop buffered audio that should
// not be transcribed or evaluated.
func (s *Speaker) ClearUserTurn() {
	if err := s.sendJSON(context.Background(), struct {
		Type string `json:"type"`
	}{"clear_user_turn"}); err != nil {
		s.logger.Warn("failed to publish clear user turn", "error", err)
	}
}

func (s *Speaker) sendJSON(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.sender.SendData(ctx, data)
}
