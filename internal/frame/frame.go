// Package frame provides the columnar time-indexed table the pipeline passes
// between stages. A Frame owns a timestamp index and named float64 columns of
// equal length; all operations return new frames and leave the receiver intact.
package frame

import (
	"fmt"
	"sort"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// IndexName is the canonical name of the time index.
const IndexName = "date"

// Canonical lists the leading OHLCV columns in their required order.
var Canonical = []string{"open", "high", "low", "close", "volume"}

// IsCanonical reports whether name is one of the five OHLCV columns.
func IsCanonical(name string) bool {
	for _, c := range Canonical {
		if c == name {
			return true
		}
	}
	return false
}

// Frame is a time-indexed table of float64 columns.
type Frame struct {
	indexName string
	index     []time.Time
	columns   []string
	data      map[string][]float64
}

// New builds a frame from an index and columns given in order. Every column
// must have exactly len(index) values and names must be unique.
func New(indexName string, index []time.Time, columns []string, values [][]float64) (*Frame, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("frame: %d column names for %d value slices", len(columns), len(values))
	}

	f := &Frame{
		indexName: indexName,
		index:     append([]time.Time(nil), index...),
		columns:   make([]string, 0, len(columns)),
		data:      make(map[string][]float64, len(columns)),
	}
	for i, name := range columns {
		if _, dup := f.data[name]; dup {
			return nil, fmt.Errorf("frame: duplicate column %q", name)
		}
		if len(values[i]) != len(index) {
			return nil, fmt.Errorf("frame: column %q has %d values, index has %d", name, len(values[i]), len(index))
		}
		f.columns = append(f.columns, name)
		f.data[name] = append([]float64(nil), values[i]...)
	}
	return f, nil
}

// FromCandles folds vendor bars into a frame in the order given. Extra fields
// missing from some bars are filled with NaN.
func FromCandles(candles []models.Candle) *Frame {
	index := make([]time.Time, len(candles))
	data := make(map[string][]float64)
	var extras []string

	for i := range candles {
		index[i] = candles[i].Timestamp
		for name, v := range candles[i].Values() {
			col, ok := data[name]
			if !ok {
				col = nanSlice(len(candles))
				data[name] = col
				if !IsCanonical(name) {
					extras = append(extras, name)
				}
			}
			col[i] = v
		}
	}

	sort.Strings(extras)
	f := &Frame{indexName: IndexName, index: index, data: make(map[string][]float64)}
	for _, name := range append(append([]string(nil), Canonical...), extras...) {
		col, ok := data[name]
		if !ok {
			col = nanSlice(len(candles))
		}
		f.columns = append(f.columns, name)
		f.data[name] = col
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// IndexName returns the name of the time index.
func (f *Frame) IndexName() string { return f.indexName }

// Index returns a copy of the time index.
func (f *Frame) Index() []time.Time { return append([]time.Time(nil), f.index...) }

// Time returns the i-th index value.
func (f *Frame) Time(i int) time.Time { return f.index[i] }

// First returns the first timestamp, or the zero time for an empty frame.
func (f *Frame) First() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[0]
}

// Last returns the last timestamp, or the zero time for an empty frame.
func (f *Frame) Last() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[len(f.index)-1]
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return append([]string(nil), f.columns...) }

// HasColumn reports whether the frame carries name.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]float64, bool) {
	col, ok := f.data[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), col...), true
}

// Value returns the value at row i of column name, NaN when absent.
func (f *Frame) Value(name string, i int) float64 {
	col, ok := f.data[name]
	if !ok || i < 0 || i >= len(col) {
		return nan
	}
	return col[i]
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		indexName: f.indexName,
		index:     append([]time.Time(nil), f.index...),
		columns:   append([]string(nil), f.columns...),
		data:      make(map[string][]float64, len(f.data)),
	}
	for name, col := range f.data {
		c.data[name] = append([]float64(nil), col...)
	}
	return c
}

// WithIndexName returns a copy whose index is called name.
func (f *Frame) WithIndexName(name string) *Frame {
	c := f.Clone()
	c.indexName = name
	return c
}

// Select returns a frame restricted to cols, in that order.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	c := &Frame{
		indexName: f.indexName,
		index:     append([]time.Time(nil), f.index...),
		columns:   make([]string, 0, len(cols)),
		data:      make(map[string][]float64, len(cols)),
	}
	for _, name := range cols {
		col, ok := f.data[name]
		if !ok {
			return nil, fmt.Errorf("frame: column %q not found", name)
		}
		if _, dup := c.data[name]; dup {
			return nil, fmt.Errorf("frame: duplicate column %q", name)
		}
		c.columns = append(c.columns, name)
		c.data[name] = append([]float64(nil), col...)
	}
	return c, nil
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(cols ...string) *Frame {
	drop := make(map[string]bool, len(cols))
	for _, name := range cols {
		drop[name] = true
	}
	keep := make([]string, 0, len(f.columns))
	for _, name := range f.columns {
		if !drop[name] {
			keep = append(keep, name)
		}
	}
	c, _ := f.Select(keep...)
	return c
}

// WithColumn returns a copy with name set to values, appended when new.
func (f *Frame) WithColumn(name string, values []float64) (*Frame, error) {
	if len(values) != len(f.index) {
		return nil, fmt.Errorf("frame: column %q has %d values, index has %d", name, len(values), len(f.index))
	}
	c := f.Clone()
	if _, ok := c.data[name]; !ok {
		c.columns = append(c.columns, name)
	}
	c.data[name] = append([]float64(nil), values...)
	return c, nil
}

// Rename returns a copy with columns renamed according to mapping.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	c := &Frame{
		indexName: f.indexName,
		index:     append([]time.Time(nil), f.index...),
		columns:   make([]string, 0, len(f.columns)),
		data:      make(map[string][]float64, len(f.columns)),
	}
	for _, name := range f.columns {
		target := name
		if to, ok := mapping[name]; ok {
			target = to
		}
		if _, dup := c.data[target]; dup {
			return nil, fmt.Errorf("frame: rename produces duplicate column %q", target)
		}
		c.columns = append(c.columns, target)
		c.data[target] = append([]float64(nil), f.data[name]...)
	}
	return c, nil
}

// Filter returns the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int, t time.Time) bool) *Frame {
	rows := make([]int, 0, len(f.index))
	for i, t := range f.index {
		if keep(i, t) {
			rows = append(rows, i)
		}
	}
	return f.take(rows)
}

// Between returns the rows whose timestamp lies in span, bounds included.
func (f *Frame) Between(span models.Span) *Frame {
	return f.Filter(func(_ int, t time.Time) bool { return span.Contains(t) })
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	if n > len(f.index) {
		n = len(f.index)
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return f.take(rows)
}

func (f *Frame) take(rows []int) *Frame {
	c := &Frame{
		indexName: f.indexName,
		index:     make([]time.Time, len(rows)),
		columns:   append([]string(nil), f.columns...),
		data:      make(map[string][]float64, len(f.columns)),
	}
	for j, i := range rows {
		c.index[j] = f.index[i]
	}
	for _, name := range f.columns {
		src := f.data[name]
		dst := make([]float64, len(rows))
		for j, i := range rows {
			dst[j] = src[i]
		}
		c.data[name] = dst
	}
	return c
}

// Reindex returns a frame over index, copying values at matching timestamps
// and leaving NaN elsewhere.
func (f *Frame) Reindex(index []time.Time) *Frame {
	pos := make(map[int64]int, len(f.index))
	for i, t := range f.index {
		pos[t.UnixNano()] = i
	}

	c := &Frame{
		indexName: f.indexName,
		index:     append([]time.Time(nil), index...),
		columns:   append([]string(nil), f.columns...),
		data:      make(map[string][]float64, len(f.columns)),
	}
	for _, name := range f.columns {
		src := f.data[name]
		dst := nanSlice(len(index))
		for j, t := range index {
			if i, ok := pos[t.UnixNano()]; ok {
				dst[j] = src[i]
			}
		}
		c.data[name] = dst
	}
	return c
}

// Equal reports whether two frames have the same index, columns, and values.
// NaN compares equal to NaN.
func (f *Frame) Equal(other *Frame) bool {
	if f.indexName != other.indexName || len(f.index) != len(other.index) || len(f.columns) != len(other.columns) {
		return false
	}
	for i := range f.index {
		if !f.index[i].Equal(other.index[i]) {
			return false
		}
	}
	for i, name := range f.columns {
		if other.columns[i] != name {
			return false
		}
		a, b := f.data[name], other.data[name]
		for k := range a {
			if a[k] != b[k] && !(isNaN(a[k]) && isNaN(b[k])) {
				return false
			}
		}
	}
	return true
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{rows: %d, columns: %v, first: %s, last: %s}",
		f.Len(), f.columns, f.First().Format(time.RFC3339), f.Last().Format(time.RFC3339))
}
