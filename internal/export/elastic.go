package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/elastic"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/source"
)

// DefaultBatchSize is the number of rows sent per bulk request when none is
// configured.
const DefaultBatchSize = 1000

// Elastic bulk-indexes one document per row into f-{symbol}_{interval}.
// Document IDs are the row timestamps, so exporting the same rows twice
// overwrites instead of duplicating. Non-finite values are left out of the
// document.
type Elastic struct {
	options
	client    *elasticsearch.Client
	batchSize int
	retrier   *perrors.Retrier
}

// NewElastic creates a bulk exporter.
func NewElastic(cfg config.ElasticConfig, batchSize int, retry config.RetryPolicyConfig, opts ...Option) (*Elastic, error) {
	o := newOptions("elastic", opts)
	client := o.es
	if client == nil {
		var err error
		if client, err = elastic.NewClient(cfg); err != nil {
			return nil, perrors.NewArgumentError("elastic", "%v", err)
		}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Elastic{
		options:   o,
		client:    client,
		batchSize: batchSize,
		retrier:   perrors.NewRetrier(retry, o.logger),
	}, nil
}

// Export implements Exporter.
func (e *Elastic) Export(ctx context.Context, interval models.Interval, set *frame.Set) error {
	return set.Each(func(symbol string, f *frame.Frame) error {
		index := source.IndexName(symbol, interval)
		for start := 0; start < f.Len(); start += e.batchSize {
			end := min(start+e.batchSize, f.Len())
			body, err := bulkBody(f, start, end)
			if err != nil {
				return fmt.Errorf("failed to encode %s rows %d-%d: %w", symbol, start, end, err)
			}
			if err := e.send(ctx, index, body); err != nil {
				return fmt.Errorf("failed to export %s: %w", symbol, err)
			}
		}
		e.metrics.RowsExported("elastic", f.Len())
		e.logger.Info("exported frame", "symbol", symbol, "index", index, "rows", f.Len())
		return nil
	})
}

// bulkBody renders rows [start, end) as newline-delimited index actions.
func bulkBody(f *frame.Frame, start, end int) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	columns := f.Columns()
	for i := start; i < end; i++ {
		at := f.Time(i).UTC().Format(time.RFC3339)
		if err := enc.Encode(map[string]interface{}{"index": map[string]string{"_id": at}}); err != nil {
			return nil, err
		}
		doc := make(map[string]interface{}, len(columns)+1)
		doc[source.TimestampField] = at
		for _, name := range columns {
			if v := f.Value(name, i); !math.IsNaN(v) && !math.IsInf(v, 0) {
				doc[name] = v
			}
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (e *Elastic) send(ctx context.Context, index string, body []byte) error {
	return e.retrier.Do(ctx, "elastic bulk "+index, func() error {
		res, err := e.client.Bulk(bytes.NewReader(body),
			e.client.Bulk.WithContext(ctx),
			e.client.Bulk.WithIndex(index),
		)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()

		if err := elastic.ResponseError(res, index+"/_bulk"); err != nil {
			return err
		}
		var out bulkResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode bulk response: %w", err)
		}
		if !out.Errors {
			return nil
		}
		for _, item := range out.Items {
			for _, result := range item {
				if result.Error != nil {
					// Report the first rejected row; resending the batch is idempotent.
					return &perrors.TransportError{
						Endpoint:   index + "/_bulk",
						StatusCode: result.Status,
						Body:       fmt.Sprintf("document %s: %s: %s", result.ID, result.Error.Type, result.Error.Reason),
					}
				}
			}
		}
		return nil
	})
}
