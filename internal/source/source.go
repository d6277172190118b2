// Package source provides the adapters that fetch raw rows for one symbol from
// a backing store or vendor and return them as frames. Every adapter is built
// from an explicit Kind and validates its request window at construction.
package source

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/fill"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/validator"
)

// Kind selects the adapter implementation.
type Kind string

const (
	KindFile     Kind = "file"
	KindPolygon  Kind = "polygon"
	KindCoinbase Kind = "coinbase"
	KindElastic  Kind = "elastic"
)

// ParseKind resolves a configured adapter name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindFile, KindPolygon, KindCoinbase, KindElastic:
		return k, nil
	default:
		return "", perrors.NewArgumentError("kind", "unknown source kind %q", s)
	}
}

// Source fetches raw frames for one symbol at a time. FetchOne returns the
// rows as the backend holds them: index named "date", canonical column names,
// but neither column order nor spacing checked.
type Source interface {
	Kind() Kind
	Params() Params
	FillPolicy() fill.Policy
	FetchOne(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error)
	NormalizeColumnOrder(f *frame.Frame) *frame.Frame
	ListSymbols(ctx context.Context) ([]string, error)
}

// Request carries the unvalidated construction parameters.
type Request struct {
	Symbols    []string
	Interval   string
	Start      string
	End        string
	FillPolicy string
}

// Params is the validated, immutable configuration of an adapter.
type Params struct {
	Window models.Window
}

// Option customizes adapter construction.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	es         *elasticsearch.Client
	retry      config.RetryPolicyConfig
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used by the REST adapters.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithElasticClient reuses an existing Elasticsearch client.
func WithElasticClient(client *elasticsearch.Client) Option {
	return func(o *options) { o.es = client }
}

// WithRetryPolicy sets the retry policy for remote adapters.
func WithRetryPolicy(policy config.RetryPolicyConfig) Option {
	return func(o *options) { o.retry = policy }
}

// New validates req and builds the adapter of the given kind. Argument
// problems are reported as ArgumentError before anything is fetched.
func New(kind Kind, req Request, cfg config.SourceConfig, opts ...Option) (Source, error) {
	window, err := models.NewWindow(req.Symbols, req.Interval, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	policy, err := fill.ByName(req.FillPolicy, window.Interval)
	if err != nil {
		return nil, err
	}

	o := options{retry: config.DefaultConfig().Retry}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	b := base{
		kind:   kind,
		params: Params{Window: window},
		policy: policy,
		logger: o.logger.With("component", "source", "source_kind", string(kind)),
	}

	var src Source
	switch kind {
	case KindFile:
		src, err = newFile(b, cfg.Directory, cfg.Extension)
	case KindPolygon:
		src, err = newPolygon(b, cfg, o)
	case KindCoinbase:
		src, err = newCoinbase(b, cfg, o)
	case KindElastic:
		src, err = newElastic(b, cfg.Elastic, o)
	default:
		err = perrors.NewArgumentError("kind", "unknown source kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// base holds what every adapter shares.
type base struct {
	kind   Kind
	params Params
	policy fill.Policy
	logger *slog.Logger
}

func (b *base) Kind() Kind              { return b.kind }
func (b *base) Params() Params          { return b.params }
func (b *base) FillPolicy() fill.Policy { return b.policy }

// NormalizeColumnOrder puts OHLCV first and sorts the remaining columns.
func (b *base) NormalizeColumnOrder(f *frame.Frame) *frame.Frame {
	return validator.NormalizeColumnOrder(f)
}

func (b *base) interval() models.Interval { return b.params.Window.Interval }

func (b *base) unsupported(capability string) error {
	return &perrors.NotSupportedError{Source: string(b.kind), Capability: capability}
}

func indexSymbol(symbol string) string { return strings.ToLower(symbol) }
