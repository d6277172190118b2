// Package export writes frame sets to sinks that the matching sources can
// read back: CSV files named like the file source expects, and Elasticsearch
// indices laid out like the elastic source expects.
package export

import (
	"context"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/metrics"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// Exporter writes every frame of a set. Frames are written in the set's
// symbol order and the first failure stops the export.
type Exporter interface {
	Export(ctx context.Context, interval models.Interval, set *frame.Set) error
}

// Option configures an exporter.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Recorder
	es        *elasticsearch.Client
	extension string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records exported rows on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// WithElasticClient replaces the client built from configuration.
func WithElasticClient(client *elasticsearch.Client) Option {
	return func(o *options) { o.es = client }
}

// WithExtension sets the file extension the csv exporter writes, so the
// output matches a file source configured with the same extension.
func WithExtension(ext string) Option {
	return func(o *options) { o.extension = ext }
}

func newOptions(sink string, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "export", "sink", sink)
	return o
}

// New creates the exporter selected by cfg.Kind.
func New(cfg config.ExportConfig, retry config.RetryPolicyConfig, opts ...Option) (Exporter, error) {
	switch cfg.Kind {
	case "", "csv":
		exp, err := NewCSV(cfg.Directory, opts...)
		if err != nil {
			return nil, err
		}
		return exp, nil
	case "elastic":
		exp, err := NewElastic(cfg.Elastic, cfg.BatchSize, retry, opts...)
		if err != nil {
			return nil, err
		}
		return exp, nil
	default:
		return nil, perrors.NewArgumentError("export.kind", "unknown exporter %q", cfg.Kind)
	}
}
