package modelstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/metrics"
)

// options are shared by every backend.
type options struct {
	pageLimit int
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithPageLimit sets how many models a single backend query returns.
func WithPageLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics counts stored models on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// WithClock overrides the source of default creation dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(backend string, opts []Option) options {
	o := options{
		pageLimit: DefaultPageLimit,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "modelstore", "backend", backend)
	return o
}

// MemoryStore keeps models in process. It is safe for concurrent use.
type MemoryStore struct {
	options
	mu     sync.RWMutex
	models []*MetaModel
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{options: newOptions("memory", opts)}
}

// Initialize implements Store.
func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

// Store implements Store. The stored value is a copy of m.
func (s *MemoryStore) Store(ctx context.Context, m *MetaModel) error {
	if err := prepare(m, s.now); err != nil {
		return err
	}
	c := cloneModel(m)

	s.mu.Lock()
	s.models = append(s.models, c)
	s.mu.Unlock()

	s.metrics.ModelStored("memory")
	s.logger.Debug("model stored", "id", m.ID, "tags", m.Tags)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, filter Filter) ([]*MetaModel, error) {
	return collectPages(ctx, s.pageLimit, func(_ context.Context, after *Cursor, limit int) ([]*MetaModel, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		var matches []*MetaModel
		for _, m := range s.models {
			if filter.Match(m) && after.after(m) {
				matches = append(matches, m)
			}
		}
		sort.Slice(matches, func(i, j int) bool { return lessModel(matches[i], matches[j]) })
		if len(matches) > limit {
			matches = matches[:limit]
		}

		page := make([]*MetaModel, len(matches))
		for i, m := range matches {
			page[i] = cloneModel(m)
		}
		return page, nil
	})
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func cloneModel(m *MetaModel) *MetaModel {
	c := *m
	c.Artifact = append([]byte(nil), m.Artifact...)
	c.Tags = append([]string{}, m.Tags...)
	c.Columns = append([]string{}, m.Columns...)
	c.Meta = make(map[string]interface{}, len(m.Meta))
	for k, v := range m.Meta {
		c.Meta[k] = v
	}
	return &c
}
