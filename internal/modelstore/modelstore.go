// Package modelstore persists opaque model artifacts together with searchable
// metadata. Every backend returns matches ordered by creation date and pages
// through its results until a short page proves the result set is exhausted.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
)

// DefaultPageLimit is the page size used when none is configured.
const DefaultPageLimit = 10000

// ErrUnsupportedFilter is returned by ParseFilter for unknown filter keys.
var ErrUnsupportedFilter = errors.New("unsupported filter key")

// MetaModel is a stored artifact and its metadata.
type MetaModel struct {
	ID           string                 `json:"id"`
	Artifact     []byte                 `json:"artifact"`
	Performance  float64                `json:"performance" validate:"gte=0,lte=1"`
	Description  string                 `json:"description"`
	Columns      []string               `json:"columns_list"`
	Tags         []string               `json:"tags"`
	CreationDate time.Time              `json:"creation_date"`
	Meta         map[string]interface{} `json:"meta"`
}

// Store persists and retrieves MetaModels.
type Store interface {
	// Initialize prepares the backend. It is idempotent.
	Initialize(ctx context.Context) error

	// Store persists m, assigning an ID and creation date when they are unset.
	Store(ctx context.Context, m *MetaModel) error

	// Get returns every model matching filter, oldest first.
	Get(ctx context.Context, filter Filter) ([]*MetaModel, error)

	Close() error
}

// Filter selects models. All set fields must match. Tags and Columns match
// when the model carries every listed value.
type Filter struct {
	Tags         []string
	Performance  *float64
	Description  string
	Columns      []string
	CreationDate *time.Time
}

// Match reports whether m satisfies f.
func (f Filter) Match(m *MetaModel) bool {
	if !containsAll(m.Tags, f.Tags) || !containsAll(m.Columns, f.Columns) {
		return false
	}
	if f.Performance != nil && m.Performance != *f.Performance {
		return false
	}
	if f.Description != "" && m.Description != f.Description {
		return false
	}
	if f.CreationDate != nil && !m.CreationDate.Equal(*f.CreationDate) {
		return false
	}
	return true
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	for _, v := range want {
		if !set[v] {
			return false
		}
	}
	return true
}

// ParseFilter builds a Filter from string key/value pairs such as CLI flags.
// Supported keys are tag, tags, performance, description, columns_list, and
// creation_date. List values are comma separated. Unknown keys fail with
// ErrUnsupportedFilter.
func ParseFilter(kv map[string]string) (Filter, error) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var f Filter
	for _, key := range keys {
		value := strings.TrimSpace(kv[key])
		switch key {
		case "tag":
			f.Tags = append(f.Tags, value)
		case "tags":
			f.Tags = append(f.Tags, splitList(value)...)
		case "performance":
			p, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Filter{}, perrors.NewArgumentError("performance", "%q is not a number", value)
			}
			f.Performance = &p
		case "description":
			f.Description = value
		case "columns_list":
			f.Columns = append(f.Columns, splitList(value)...)
		case "creation_date":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return Filter{}, perrors.NewArgumentError("creation_date", "%q is not an RFC 3339 timestamp", value)
			}
			t = t.UTC()
			f.CreationDate = &t
		default:
			return Filter{}, fmt.Errorf("%w: %q", ErrUnsupportedFilter, key)
		}
	}
	return f, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var metaValidator = validator.New()

// prepare validates m and fills the ID and creation date. Creation dates are
// kept at microsecond precision so every backend orders them identically.
func prepare(m *MetaModel, now func() time.Time) error {
	if m == nil {
		return perrors.NewArgumentError("model", "must not be nil")
	}
	if err := metaValidator.Struct(m); err != nil {
		return perrors.NewArgumentError("performance", "must be between 0 and 1, got %v", m.Performance)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreationDate.IsZero() {
		m.CreationDate = now()
	}
	m.CreationDate = m.CreationDate.UTC().Truncate(time.Microsecond)
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Columns == nil {
		m.Columns = []string{}
	}
	if m.Meta == nil {
		m.Meta = map[string]interface{}{}
	}
	return nil
}

// Cursor is the sort key of the last model of a page.
type Cursor struct {
	CreationDate time.Time
	ID           string
}

func cursorOf(m *MetaModel) *Cursor {
	return &Cursor{CreationDate: m.CreationDate, ID: m.ID}
}

// after reports whether m sorts strictly after c.
func (c *Cursor) after(m *MetaModel) bool {
	if c == nil {
		return true
	}
	if !m.CreationDate.Equal(c.CreationDate) {
		return m.CreationDate.After(c.CreationDate)
	}
	return m.ID > c.ID
}

func lessModel(a, b *MetaModel) bool {
	if !a.CreationDate.Equal(b.CreationDate) {
		return a.CreationDate.Before(b.CreationDate)
	}
	return a.ID < b.ID
}

// pageFunc fetches at most limit models sorting after the cursor.
type pageFunc func(ctx context.Context, after *Cursor, limit int) ([]*MetaModel, error)

// collectPages keeps requesting pages after the last seen sort key for as long
// as pages come back full.
func collectPages(ctx context.Context, limit int, fetch pageFunc) ([]*MetaModel, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	var (
		all   []*MetaModel
		after *Cursor
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, after, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < limit {
			return all, nil
		}
		after = cursorOf(page[len(page)-1])
	}
}

// StoreError wraps a backend failure with the operation that caused it.
type StoreError struct {
	Operation string
	Backend   string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("model store %s operation %s failed: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(backend, operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Backend: backend, Err: err}
}

// New creates the backend selected by cfg.Type with cfg.PageLimit as page
// size. The returned store is not yet initialized.
func New(cfg config.ModelStoreConfig, retry config.RetryPolicyConfig, opts ...Option) (Store, error) {
	opts = append([]Option{WithPageLimit(cfg.PageLimit)}, opts...)
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(opts...), nil
	case "duckdb":
		store, err := NewDuckDBStore(cfg.DatabaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "elastic":
		store, err := NewElasticStore(nil, cfg.Elastic, cfg.Index, retry, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, perrors.NewArgumentError("model_store.type", "unknown backend %q", cfg.Type)
	}
}
