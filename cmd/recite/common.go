package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/recite/internal/adapters/anki"
	"github.com/longregen/recite/internal/adapters/id"
	"github.com/longregen/recite/internal/adapters/livekit"
	"github.com/longregen/recite/internal/adapters/llm"
	"github.com/longregen/recite/internal/adapters/localdeck"
	"github.com/longregen/recite/internal/adapters/postgres"
	"github.com/longregen/recite/internal/adapters/speech"
	"github.com/longregen/recite/internal/adapters/sqlite"
	"github.com/longregen/recite/internal/application/orchestrator"
	"github.com/longregen/recite/internal/application/services"
	"github.com/longregen/recite/internal/config"
	"github.com/longregen/recite/internal/ports"
	"github.com/longregen/recite/internal/usage"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global, populated by the root command's PersistentPreRunE.
var cfg *config.Config

// syncedReviewRetention is how long synced review rows linger before
// the startup cleanup drops them.
const syncedReviewRetention = 24 * time.Hour

func newLogger() *slog.Logger {
	var handler slog.Handler
	if cfg != nil && cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}

// stack wires the adapters and services one process needs. Fields stay
// nil when the matching backend is not configured.
type stack struct {
	logger     *slog.Logger
	tracker    *usage.Tracker
	ids        *id.Generator
	flashcards ports.FlashcardService
	store      ports.ReviewStore
	pool       *pgxpool.Pool
	syncer     *services.SyncOrchestrator
	sessions   *services.SessionManager
	evaluator  *services.EvaluationService
	hints      *services.HintService
	llm        ports.LLMService
	tts        ports.TTSService
	rtc        *livekit.Service
}

func buildStack(ctx context.Context, logger *slog.Logger) (*stack, error) {
	s := &stack{logger: logger, ids: id.New()}

	if cfg.UsagePath != "" {
		s.tracker = usage.NewTracker(cfg.UsagePath, logger)
	}

	switch cfg.Flashcard.Adapter {
	case config.AdapterLocal:
		svc, err := localdeck.NewService(logger)
		if err != nil {
			return nil, fmt.Errorf("local deck: %w", err)
		}
		s.flashcards = svc
		logger.Info("flashcard backend ready", "adapter", "local")
	default:
		s.flashcards = anki.NewService(cfg.Flashcard.AnkiURL, time.Duration(cfg.Flashcard.TimeoutSeconds)*time.Second, logger)
		logger.Info("flashcard backend ready", "adapter", "anki", "url", cfg.Flashcard.AnkiURL)
	}

	switch cfg.Recovery.Store {
	case config.StorePostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.Recovery.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("parse postgres URL: %w", err)
		}
		poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := postgres.NewStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres review store: %w", err)
		}
		s.pool = pool
		s.store = store
		logger.Info("review store ready", "store", "postgres")
	default:
		store, err := sqlite.NewStore(cfg.Recovery.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite review store: %w", err)
		}
		s.store = store
		logger.Info("review store ready", "store", "sqlite", "path", cfg.Recovery.DBPath)
	}

	llmService := llm.NewService(
		cfg.LLM.URL,
		cfg.LLM.APIKey,
		s.tracker,
		logger,
		llm.WithModel(cfg.LLM.Model),
		llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
	)
	s.llm = llmService
	s.evaluator = services.NewEvaluationService(llmService, logger)
	s.hints = services.NewHintService(llmService, logger)

	if cfg.IsTTSConfigured() {
		s.tts = speech.NewTTSAdapter(cfg.TTS.URL, cfg.TTS.Model, cfg.TTS.Voice, s.tracker)
		logger.Info("tts ready", "url", cfg.TTS.URL, "voice", cfg.TTS.Voice)
	}

	s.syncer = services.NewSyncOrchestrator(s.flashcards, s.store, logger)
	s.sessions = services.NewSessionManager(
		s.flashcards,
		s.store,
		s.syncer,
		s.ids.GenerateSessionID,
		cfg.SessionTimeout(),
		logger,
	)

	if cfg.IsLiveKitConfigured() {
		rtc, err := livekit.NewService(&livekit.ServiceConfig{
			URL:                   cfg.LiveKit.URL,
			APIKey:                cfg.LiveKit.APIKey,
			APISecret:             cfg.LiveKit.APISecret,
			AgentName:             cfg.LiveKit.AgentName,
			TokenValidityDuration: 6 * time.Hour,
		}, logger)
		if err != nil {
			logger.Warn("livekit unavailable", "error", err)
		} else {
			s.rtc = rtc
			logger.Info("livekit ready", "url", cfg.LiveKit.URL)
		}
	}

	return s, nil
}

// maintenance runs the startup housekeeping pass over the review
// store: unstick crashed syncs, drop old synced rows, purge unsynced
// rows past the 7-day window.
func (s *stack) maintenance(ctx context.Context) {
	if reset, err := s.store.ResetStaleProcessing(ctx); err != nil {
		s.logger.Warn("reset stale processing failed", "error", err)
	} else if reset > 0 {
		s.logger.Info("reset stale processing reviews", "count", reset)
	}

	if cleaned, err := s.store.CleanupOldSynced(ctx, syncedReviewRetention); err != nil {
		s.logger.Warn("cleanup of synced reviews failed", "error", err)
	} else if cleaned > 0 {
		s.logger.Info("cleaned up synced reviews", "count", cleaned)
	}

	if purged, err := s.syncer.PurgeOldRatings(ctx); err != nil {
		s.logger.Warn("purge of old ratings failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged old unsynced ratings", "count", purged)
	}
}

// orchestratorFactory binds a fresh session loop to a room's publisher
// and speaker. One orchestrator per connected room or hub.
func (s *stack) orchestratorFactory() livekit.OrchestratorFactory {
	return func(publisher ports.EventPublisher, speaker orchestrator.Speaker) *orchestrator.Orchestrator {
		return orchestrator.New(s.evaluator, s.hints, s.sessions, s.llm, publisher, speaker, s.logger)
	}
}

func (s *stack) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("review store close failed", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
