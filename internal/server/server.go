package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type Server struct {
	cfg      Config
	router   chi.Router
	server   *http.Server
	hub      *Hub
	handlers *Handlers
	logger   *slog.Logger
}

func New(cfg Config, handlers *Handlers, hub *Hub, inbound InboundHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		hub:      hub,
		handlers: handlers,
		logger:   logger,
	}
	s.routes(inbound)
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(inbound InboundHandler) {
	s.router.Use(Recovery)
	s.router.Use(Logger)
	s.router.Use(CORS(s.cfg.AllowedOrigins))

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Use(RateLimit(30, time.Minute))
			r.Post("/start", s.handlers.StartSession)
			r.Post("/end", s.handlers.EndSession)
			r.Get("/current", s.handlers.CurrentSession)
			r.Head("/current", s.handlers.HeadCurrentSession)
			r.Delete("/force-end", s.handlers.ForceEndSessions)
		})
		r.Route("/cards", func(r chi.Router) {
			r.Use(RateLimit(120, time.Minute))
			r.Post("/{cardID}/rate", s.handlers.RateCard)
			r.Post("/{cardID}/skip", s.handlers.SkipCard)
			r.Get("/{cardID}/image", s.handlers.CardImage)
		})
		r.With(RateLimit(60, time.Minute)).Get("/decks", s.handlers.ListDecks)
		r.Post("/livekit/token", s.handlers.LiveKitToken)
		r.Get("/usage/summary", s.handlers.UsageSummary)
		r.Get("/health", s.handlers.Health)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	if s.hub != nil {
		s.router.Handle("/ws", NewWSHandler(s.hub, inbound, s.cfg.AllowedOrigins))
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}
