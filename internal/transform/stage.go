package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/logger"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/metrics"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// ErrEmptyWindow is the cause recorded when a symbol has rows only outside
// the requested window.
var ErrEmptyWindow = errors.New("no rows inside the requested window")

// Stage derives features for every symbol its upstream produces and
// reconciles the results. It is itself a Producer.
type Stage struct {
	upstream    Producer
	generator   FeatureGenerator
	passthrough bool
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithFeatureGenerator replaces the default TAFeatures generator.
func WithFeatureGenerator(g FeatureGenerator) Option {
	return func(s *Stage) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithPassthrough keeps the upstream's extra columns next to the freshly
// generated ones, so chained stages accumulate features.
func WithPassthrough() Option {
	return func(s *Stage) { s.passthrough = true }
}

// WithMetrics counts dropped columns on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Stage) { s.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStage creates a stage reading from upstream.
func NewStage(upstream Producer, opts ...Option) *Stage {
	s := &Stage{
		upstream:  upstream,
		generator: NewTAFeatures(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "transform")
	return s
}

// Window returns the upstream's window.
func (s *Stage) Window() models.Window {
	return s.upstream.Window()
}

// Transform derives and reconciles over the nominal window.
func (s *Stage) Transform(ctx context.Context) (*frame.Set, error) {
	return s.Produce(ctx, 0)
}

// Produce asks the upstream for the window plus its own warm-up buffer plus
// lookback, derives every frame, and truncates the result to the window
// extended lookback before its start.
func (s *Stage) Produce(ctx context.Context, lookback time.Duration) (*frame.Set, error) {
	w := s.Window()
	span := w.Span().Extend(lookback)

	raw, err := s.upstream.Produce(ctx, w.Lookback()+lookback)
	if err != nil {
		return nil, err
	}

	derived := frame.NewSet()
	err = raw.Each(func(symbol string, f *frame.Frame) error {
		d, dropped, err := derive(f, span, s.generator, s.passthrough)
		if err != nil {
			return fmt.Errorf("failed to derive features for %s: %w", symbol, err)
		}
		if d.Between(w.Span()).Len() == 0 {
			return perrors.NewDataNotAvailable(symbol, w.Start, w.End, ErrEmptyWindow)
		}
		if len(dropped) > 0 {
			s.metrics.ColumnsDropped(len(dropped))
			logger.FromContext(logger.WithSymbol(ctx, symbol), s.logger).
				Debug("dropped unstable columns", "columns", dropped)
		}
		derived.Put(symbol, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var reconciled *frame.Set
	err = logger.TimedOperation(ctx, s.logger, "reconcile", func() error {
		var rerr error
		reconciled, rerr = Reconcile(derived)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return reconciled, nil
}
