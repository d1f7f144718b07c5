package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recite_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recite_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recite_sessions_started_total",
		Help: "Total review sessions started",
	})

	SessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recite_sessions_ended_total",
		Help: "Total review sessions ended, by final state",
	}, []string{"state"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recite_sessions_active",
		Help: "Number of active review sessions",
	})

	CardsReviewedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recite_cards_reviewed_total",
		Help: "Total cards reviewed, by rating",
	}, []string{"rating"})

	RatingSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recite_rating_sync_failures_total",
		Help: "Rating submissions that failed and were queued for recovery",
	})

	RecoveredReviewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recite_recovered_reviews_total",
		Help: "Pending reviews synced from the recovery store",
	})

	// AnswerLatency tracks mic-close to first feedback audio. Buckets
	// bracket the 1 s responsiveness target.
	AnswerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recite_answer_latency_seconds",
		Help:    "Latency from end of user speech to first feedback audio",
		Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recite_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"operation", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recite_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	TTSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recite_tts_request_duration_seconds",
		Help:    "TTS synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5},
	})
)
