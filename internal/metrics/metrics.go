// Package metrics exposes pipeline metrics in Prometheus format together with
// a small HTTP server for the scrape and health endpoints.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results recorded by ObserveFetch.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultError   = "error"
)

// Recorder holds the pipeline's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	fetchTotal     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	rowsTotal      *prometheus.CounterVec
	columnsDropped prometheus.Counter
	modelsStored   *prometheus.CounterVec
	rowsExported   *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg under namespace.
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		fetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Per-symbol fetches by source kind and result.",
		}, []string{"source", "result"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of fetch, normalize, and validate for one symbol.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Validated rows returned by sources.",
		}, []string{"source"}),
		columnsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_dropped_total",
			Help:      "Indicator columns dropped because their z-score was not finite.",
		}),
		modelsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "models_stored_total",
			Help:      "Model artifacts written to the tagged store.",
		}, []string{"backend"}),
		rowsExported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Rows written by exporters.",
		}, []string{"sink"}),
	}
}

// ObserveFetch records one per-symbol fetch.
func (r *Recorder) ObserveFetch(source, result string, d time.Duration, rows int) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues(source, result).Inc()
	r.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
	if rows > 0 {
		r.rowsTotal.WithLabelValues(source).Add(float64(rows))
	}
}

// ColumnsDropped records n dropped indicator columns.
func (r *Recorder) ColumnsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.columnsDropped.Add(float64(n))
}

// ModelStored records one stored artifact.
func (r *Recorder) ModelStored(backend string) {
	if r == nil {
		return
	}
	r.modelsStored.WithLabelValues(backend).Inc()
}

// RowsExported records n rows written to sink.
func (r *Recorder) RowsExported(sink string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsExported.WithLabelValues(sink).Add(float64(n))
}

// Server serves the scrape endpoint and a health probe.
type Server struct {
	config    config.MetricsConfig
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startTime time.Time
}

// NewServer creates a server exposing gatherer.
func NewServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: cfg, gatherer: gatherer, logger: logger, startTime: time.Now()}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	path := s.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens in the background. It is a no-op when metrics are disabled.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("metrics server disabled")
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting metrics server", "addr", s.config.Addr, "path", s.config.Path)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode health status", "error", err)
	}
}
