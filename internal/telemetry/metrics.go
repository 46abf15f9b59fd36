// Package telemetry exposes Prometheus metrics for the debugging pipeline.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's instrument set.
type Metrics struct {
	// PipelineRuns counts completed pipeline runs by outcome
	// (completed, deja_vu, failed).
	PipelineRuns *prometheus.CounterVec

	// StageFallbacks counts degraded stages by stage name
	// (analysis, extraction).
	StageFallbacks *prometheus.CounterVec

	// DejaVuMatches counts short-circuits from the similarity detector.
	DejaVuMatches prometheus.Counter

	// FeedbackRecorded counts feedback submissions by verdict.
	FeedbackRecorded *prometheus.CounterVec

	// LLMTokens counts tokens consumed by stage.
	LLMTokens *prometheus.CounterVec

	// StageDuration observes per-stage latency.
	StageDuration *prometheus.HistogramVec
}

// New registers the instrument set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Name:      "stage_fallbacks_total",
			Help:      "Pipeline stages that degraded to a fallback result.",
		}, []string{"stage"}),
		DejaVuMatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "athena",
			Name:      "deja_vu_matches_total",
			Help:      "Pipeline runs short-circuited by a similar past error.",
		}),
		FeedbackRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Name:      "feedback_recorded_total",
			Help:      "Feedback submissions by verdict.",
		}, []string{"verdict"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athena",
			Name:      "llm_tokens_total",
			Help:      "Model tokens consumed by pipeline stage.",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "athena",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for callers that
// do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Server exposes a registry over /metrics.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a metrics HTTP server on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
