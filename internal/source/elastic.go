package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/elastic"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// TimestampField is the document field holding the bar time.
const TimestampField = "@timestamp"

// Elastic reads bars from one index per symbol and interval, named
// f-{symbol}_{interval} with the symbol lower-cased.
type Elastic struct {
	base
	client  *elasticsearch.Client
	retrier *perrors.Retrier
}

func newElastic(b base, cfg config.ElasticConfig, o options) (*Elastic, error) {
	client := o.es
	if client == nil {
		var err error
		if client, err = elastic.NewClient(cfg); err != nil {
			return nil, perrors.NewArgumentError("elastic", "%v", err)
		}
	}
	return &Elastic{
		base:    b,
		client:  client,
		retrier: perrors.NewRetrier(o.retry, b.logger),
	}, nil
}

// IndexName returns the index holding symbol at interval.
func IndexName(symbol string, interval models.Interval) string {
	return fmt.Sprintf("f-%s_%s", indexSymbol(symbol), interval)
}

// FetchOne queries span in windows of at most MaxResultWindow intervals so no
// single search exceeds the result window. Rows come back sorted by time with
// duplicates removed.
func (s *Elastic) FetchOne(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error) {
	index := IndexName(symbol, s.interval())
	chunk := time.Duration(elastic.MaxResultWindow) * s.interval().Duration()

	var docs []map[string]interface{}
	for beg := span.Start; ; {
		end := beg.Add(chunk)
		last := !end.Before(span.End)
		if last {
			end = span.End
		}

		hits, err := s.search(ctx, index, beg, end, last)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", index, err)
		}
		docs = append(docs, hits...)

		if last {
			break
		}
		beg = end
	}

	f, err := documentsToFrame(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", index, err)
	}
	s.logger.Debug("fetched documents", "symbol", symbol, "index", index, "rows", f.Len())
	return f, nil
}

// search returns the _source of every document in [from, to), or [from, to]
// when inclusive is set.
func (s *Elastic) search(ctx context.Context, index string, from, to time.Time, inclusive bool) ([]map[string]interface{}, error) {
	upper := "lt"
	if inclusive {
		upper = "lte"
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"range": map[string]interface{}{
						TimestampField: map[string]interface{}{
							"gte": from.UTC().Format(time.RFC3339),
							upper: to.UTC().Format(time.RFC3339),
						},
					},
				},
			},
		},
		"sort": []interface{}{map[string]interface{}{TimestampField: "asc"}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	err = s.retrier.Do(ctx, "elastic search", func() error {
		res, err := s.client.Search(
			s.client.Search.WithContext(ctx),
			s.client.Search.WithIndex(index),
			s.client.Search.WithBody(bytes.NewReader(body)),
			s.client.Search.WithSize(elastic.MaxResultWindow),
		)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()

		if err := elastic.ResponseError(res, index+"/_search"); err != nil {
			return err
		}
		return json.NewDecoder(res.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		dec := json.NewDecoder(bytes.NewReader(hit.Source))
		dec.UseNumber()
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ListSymbols lists the f-*_{interval} indices.
func (s *Elastic) ListSymbols(ctx context.Context) ([]string, error) {
	var indices []struct {
		Index string `json:"index"`
	}
	err := s.retrier.Do(ctx, "elastic cat indices", func() error {
		res, err := s.client.Cat.Indices(
			s.client.Cat.Indices.WithContext(ctx),
			s.client.Cat.Indices.WithIndex("f-*"),
			s.client.Cat.Indices.WithFormat("json"),
		)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()

		if err := elastic.ResponseError(res, "_cat/indices"); err != nil {
			return err
		}
		return json.NewDecoder(res.Body).Decode(&indices)
	})
	if err != nil {
		return nil, err
	}

	suffix := "_" + s.interval().String()
	var symbols []string
	for _, idx := range indices {
		if !strings.HasPrefix(idx.Index, "f-") || !strings.HasSuffix(idx.Index, suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(idx.Index, "f-"), suffix)
		if name != "" {
			symbols = append(symbols, strings.ToUpper(name))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// FieldName maps a document field to its column name.
func FieldName(field string) string {
	return strings.ReplaceAll(strings.ToLower(field), ".", "_")
}

// documentsToFrame turns search hits into a frame. Fields that never carry a
// number are ignored; a numeric field missing from a document is NaN there.
func documentsToFrame(docs []map[string]interface{}) (*frame.Frame, error) {
	type row struct {
		at     time.Time
		values map[string]float64
	}

	rows := make([]row, 0, len(docs))
	names := make(map[string]bool)
	for i, doc := range docs {
		raw, ok := doc[TimestampField]
		if !ok {
			return nil, fmt.Errorf("document %d has no %s field", i, TimestampField)
		}
		at, err := parseDocumentTime(raw)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		r := row{at: at, values: make(map[string]float64, len(doc))}
		for field, v := range doc {
			if field == TimestampField {
				continue
			}
			if num, ok := numeric(v); ok {
				name := FieldName(field)
				r.values[name] = num
				names[name] = true
			}
		}
		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })
	deduped := rows[:0]
	for _, r := range rows {
		if n := len(deduped); n > 0 && deduped[n-1].at.Equal(r.at) {
			deduped[n-1] = r
			continue
		}
		deduped = append(deduped, r)
	}

	columns := make([]string, 0, len(names))
	for name := range names {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	index := make([]time.Time, len(deduped))
	values := make([][]float64, len(columns))
	for c := range values {
		values[c] = make([]float64, len(deduped))
	}
	for i, r := range deduped {
		index[i] = r.at
		for c, name := range columns {
			v, ok := r.values[name]
			if !ok {
				v = math.NaN()
			}
			values[c][i] = v
		}
	}
	return frame.New(frame.IndexName, index, columns, values)
}

func parseDocumentTime(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		return frame.ParseTimestamp(v)
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch %s", v)
		}
		return time.UnixMilli(ms).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported %s value %v", TimestampField, raw)
	}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
