// Package aggregator fans a request out over every symbol of a window, runs
// fetch, column normalization, and schema validation per symbol, and returns
// either a complete result set or a single failure.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/logger"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/metrics"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/source"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/validator"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrEmpty is the cause recorded when a source returns no rows.
var ErrEmpty = errors.New("source returned no rows")

// Aggregator produces validated frames for many symbols from one source.
// It keeps no state between calls.
type Aggregator struct {
	source    source.Source
	validator *validator.FrameValidator
	workers   int
	limiter   *rate.Limiter
	timeout   time.Duration
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkerCount bounds the number of symbols fetched concurrently.
func WithWorkerCount(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithRateLimit caps symbol fetches per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(a *Aggregator) {
		if perSecond > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithFetchTimeout bounds each symbol's fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithMetrics records per-symbol outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Aggregator) { a.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithPipelineConfig applies worker count, fetch rate, and fetch timeout.
func WithPipelineConfig(cfg config.PipelineConfig) Option {
	return func(a *Aggregator) {
		WithWorkerCount(cfg.WorkerCount)(a)
		WithRateLimit(cfg.FetchRate)(a)
		WithFetchTimeout(config.Duration(cfg.FetchTimeout, 0))(a)
	}
}

// New creates an aggregator over src.
func New(src source.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:  src,
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "aggregator")
	a.validator = validator.New(a.logger)
	return a
}

// Window returns the source's request window.
func (a *Aggregator) Window() models.Window {
	return a.source.Params().Window
}

// GetData fetches, normalizes, and validates every symbol over the window.
//
// Any per-symbol failure is reported as DataNotAvailable wrapping its cause,
// except programming errors, which are returned unchanged. All symbols are
// attempted; when several fail, the error returned is the one of the earliest
// symbol in request order, with programming errors taking precedence over
// data failures. No partial result is ever returned.
func (a *Aggregator) GetData(ctx context.Context, symbols []string) (*frame.Set, error) {
	return a.collect(ctx, symbols, a.Window().Span())
}

// Produce fetches the window's symbols over the window extended lookback
// before its start.
func (a *Aggregator) Produce(ctx context.Context, lookback time.Duration) (*frame.Set, error) {
	w := a.Window()
	return a.collect(ctx, w.Symbols, w.Span().Extend(lookback))
}

func (a *Aggregator) collect(ctx context.Context, symbols []string, span models.Span) (*frame.Set, error) {
	if len(symbols) == 0 {
		return nil, perrors.NewArgumentError("symbols", "must not be empty")
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s == "" {
			return nil, perrors.NewArgumentError("symbols", "must not contain empty symbols")
		}
		if seen[s] {
			return nil, perrors.NewArgumentError("symbols", "duplicate symbol %q", s)
		}
		seen[s] = true
	}

	frames := make([]*frame.Frame, len(symbols))
	errs := make([]error, len(symbols))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			frames[i], errs[i] = a.fetchSymbol(ctx, symbol, span)
			return nil
		})
	}
	_ = g.Wait()

	if err := firstFailure(errs); err != nil {
		return nil, err
	}

	set := frame.NewSet()
	for i, symbol := range symbols {
		set.Put(symbol, frames[i])
	}
	return set, nil
}

// firstFailure picks the reported error deterministically.
func firstFailure(errs []error) error {
	for _, err := range errs {
		if err != nil && perrors.IsProgrammingError(err) {
			return err
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) fetchSymbol(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error) {
	w := a.Window()
	kind := string(a.source.Kind())
	ctx = logger.WithSource(logger.WithInterval(logger.WithSymbol(ctx, symbol), w.Interval.String()), kind)
	log := logger.FromContext(ctx, a.logger)
	start := time.Now()

	fail := func(result string, cause error) (*frame.Frame, error) {
		a.metrics.ObserveFetch(kind, result, time.Since(start), 0)
		if perrors.IsProgrammingError(cause) {
			log.Error("programming error while fetching", "error", cause)
			return nil, cause
		}
		log.Warn("data not available", "error", cause)
		return nil, perrors.NewDataNotAvailable(symbol, w.Start, w.End, cause)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fail(metrics.ResultError, fmt.Errorf("rate limit wait failed: %w", err))
		}
	}

	fetchCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	f, err := a.source.FetchOne(fetchCtx, symbol, span)
	if err != nil {
		return fail(metrics.ResultError, err)
	}
	if f == nil || f.Len() == 0 {
		return fail(metrics.ResultEmpty, ErrEmpty)
	}

	f, err = a.validator.Validate(a.source.NormalizeColumnOrder(f), a.source.FillPolicy())
	if err != nil {
		return fail(metrics.ResultError, err)
	}
	// Rows that only cover a lookback buffer are no data for the window.
	if f.Between(w.Span()).Len() == 0 {
		return fail(metrics.ResultEmpty, ErrEmpty)
	}

	a.metrics.ObserveFetch(kind, metrics.ResultSuccess, time.Since(start), f.Len())
	log.Debug("symbol ready", "rows", f.Len(), "columns", len(f.Columns()), "duration", time.Since(start))
	return f, nil
}
