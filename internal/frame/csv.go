package frame

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// timestampLayouts are tried in order when parsing the index column.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an index cell. Bare integers are read as unix seconds,
// or milliseconds when they are too large to be seconds. Times without a zone
// are taken as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ReadCSV reads a table whose first column is the timestamp index and whose
// remaining columns are numeric. Headers matching the canonical OHLCV names
// case-insensitively are lower-cased; other headers are kept verbatim.
// Unparseable numeric cells become NaN. Row order is preserved.
func ReadCSV(r io.Reader) (*Frame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", df.Err)
	}

	names := df.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("csv has no columns")
	}

	stamps := df.Col(names[0]).Records()
	index := make([]time.Time, len(stamps))
	for i, raw := range stamps {
		t, err := ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		index[i] = t
	}

	columns := make([]string, 0, len(names)-1)
	values := make([][]float64, 0, len(names)-1)
	for _, name := range names[1:] {
		columns = append(columns, canonicalName(name))
		values = append(values, df.Col(name).Float())
	}

	return New(names[0], index, columns, values)
}

func canonicalName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if IsCanonical(lower) {
		return lower
	}
	return name
}

// WriteCSV writes the frame with the index as the first column, timestamps in
// RFC 3339 and values in shortest round-trip form. The output is readable by
// ReadCSV.
func (f *Frame) WriteCSV(w io.Writer) error {
	stamps := make([]string, len(f.index))
	for i, t := range f.index {
		stamps[i] = t.UTC().Format(time.RFC3339Nano)
	}

	indexName := f.indexName
	if indexName == "" {
		indexName = IndexName
	}
	cols := []series.Series{series.New(stamps, series.String, indexName)}
	for _, name := range f.columns {
		src := f.data[name]
		cells := make([]string, len(src))
		for i, v := range src {
			cells[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		cols = append(cols, series.New(cells, series.String, name))
	}

	df := dataframe.New(cols...)
	if df.Err != nil {
		return fmt.Errorf("failed to build csv table: %w", df.Err)
	}
	return df.WriteCSV(w)
}
