package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/aggregator"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/export"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/logger"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/metrics"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/modelstore"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// configError marks failures to load or apply configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// app holds the components every command shares.
type app struct {
	cfg      *config.AppConfig
	logs     *logger.LoggerManager
	logger   *slog.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
	server   *metrics.Server
}

// newApp loads configuration, sets up logging, and starts the metrics
// server when it is enabled.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	bootstrap := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.NewConfigManager(flags.configPath, bootstrap, flags.envFiles...).LoadConfig(ctx)
	if err != nil {
		return nil, &configError{err: err}
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return nil, &configError{err: fmt.Errorf("failed to set up logging: %w", err)}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logs:     logs,
		logger:   logs.GetLogger(),
		registry: registry,
		recorder: metrics.NewRecorder(registry, cfg.Metrics.Namespace),
	}
	a.server = metrics.NewServer(cfg.Metrics, registry, logs.GetComponentLogger("metrics"))
	if err := a.server.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.logger.Debug("configuration", "config", cfg.String())
	return a, nil
}

// Close stops the metrics server and flushes the logs.
func (a *app) Close(ctx context.Context) error {
	if err := a.server.Stop(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("failed to stop metrics server", "error", err)
	}
	return a.logs.Close()
}

// windowFlags are the request parameters shared by fetch and transform.
type windowFlags struct {
	symbols    []string
	interval   string
	start      string
	end        string
	fillPolicy string
	sourceKind string
}

func (w *windowFlags) request(cfg *config.AppConfig) source.Request {
	fill := w.fillPolicy
	if fill == "" {
		fill = cfg.Pipeline.FillPolicy
	}
	symbols := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	return source.Request{
		Symbols:    symbols,
		Interval:   w.interval,
		Start:      w.start,
		End:        w.end,
		FillPolicy: fill,
	}
}

// newSource builds the configured adapter, or the one named by kind.
func (a *app) newSource(kind string, req source.Request) (source.Source, error) {
	if kind == "" {
		kind = a.cfg.Source.Kind
	}
	k, err := source.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return source.New(k, req, a.cfg.Source,
		source.WithLogger(a.logger),
		source.WithRetryPolicy(a.cfg.Retry),
	)
}

func (a *app) newAggregator(src source.Source) *aggregator.Aggregator {
	return aggregator.New(src,
		aggregator.WithPipelineConfig(a.cfg.Pipeline),
		aggregator.WithMetrics(a.recorder),
		aggregator.WithLogger(a.logger),
	)
}

func (a *app) newExporter(kind, directory string) (export.Exporter, error) {
	cfg := a.cfg.Export
	if kind != "" {
		cfg.Kind = kind
	}
	if directory != "" {
		cfg.Directory = directory
	}
	return export.New(cfg, a.cfg.Retry,
		export.WithLogger(a.logger),
		export.WithMetrics(a.recorder),
		export.WithExtension(a.cfg.Source.Extension),
	)
}

// openModelStore creates and initializes the configured model store.
func (a *app) openModelStore(ctx context.Context) (modelstore.Store, error) {
	store, err := modelstore.New(a.cfg.ModelStore, a.cfg.Retry,
		modelstore.WithLogger(a.logger),
		modelstore.WithMetrics(a.recorder),
	)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
