package source

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readBody returns the request body, inflating it when the client compressed it.
func readBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	return body
}

func esHandler(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if handler, ok := routes[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
	})
}

func searchHits(docs ...map[string]interface{}) map[string]interface{} {
	hits := make([]interface{}, len(docs))
	for i, d := range docs {
		hits[i] = map[string]interface{}{"_source": d}
	}
	return map[string]interface{}{"hits": map[string]interface{}{"hits": hits}}
}

func newElasticSource(t *testing.T, serverURL, interval, start, end string) *Elastic {
	t.Helper()
	cfg := fileConfig(t.TempDir())
	cfg.Elastic.Addresses = []string{serverURL}

	src, err := New(KindElastic, Request{
		Symbols:  []string{"BTCUSD"},
		Interval: interval,
		Start:    start,
		End:      end,
	}, cfg, WithLogger(createTestLogger()), WithRetryPolicy(testRetryPolicy()))
	require.NoError(t, err)
	return src.(*Elastic)
}

func TestIndexNameAndFieldName(t *testing.T) {
	assert.Equal(t, "f-btcusd_hour", IndexName("BTCUSD", "hour"))
	assert.Equal(t, "trade_count", FieldName("Trade.Count"))
	assert.Equal(t, "open", FieldName("Open"))
}

func TestElastic_FetchOneChunksAndDecodes(t *testing.T) {
	var (
		mu     sync.Mutex
		ranges []map[string]interface{}
	)

	server := httptest.NewServer(esHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/f-btcusd_minute/_search": func(w http.ResponseWriter, r *http.Request) {
			var query struct {
				Query struct {
					Bool struct {
						Must struct {
							Range map[string]map[string]interface{} `json:"range"`
						} `json:"must"`
					} `json:"bool"`
				} `json:"query"`
			}
			require.NoError(t, json.Unmarshal(readBody(t, r), &query))

			mu.Lock()
			first := len(ranges) == 0
			ranges = append(ranges, query.Query.Bool.Must.Range[TimestampField])
			mu.Unlock()

			if !first {
				_ = json.NewEncoder(w).Encode(searchHits())
				return
			}
			_ = json.NewEncoder(w).Encode(searchHits(
				map[string]interface{}{"@timestamp": "2022-01-01T00:02:00Z", "Open": 3, "High": 4, "Low": 2, "Close": 3.5, "Volume": 30, "trade.count": 7, "pair": "BTCUSD"},
				map[string]interface{}{"@timestamp": "2022-01-01T00:00:00Z", "Open": 1, "High": 2, "Low": 0.5, "Close": 1.5, "Volume": 10, "trade.count": 5, "pair": "BTCUSD"},
				map[string]interface{}{"@timestamp": "2022-01-01T00:01:00Z", "Open": 2, "High": 3, "Low": 1, "Close": 2.5, "Volume": 20, "pair": "BTCUSD"},
				map[string]interface{}{"@timestamp": "2022-01-01T00:01:00Z", "Open": 2, "High": 3, "Low": 1, "Close": 2.5, "Volume": 21, "pair": "BTCUSD"},
			))
		},
	}))
	defer server.Close()

	src := newElasticSource(t, server.URL, "minute", "2022-01-01", "2022-01-15")
	f, err := src.FetchOne(context.Background(), "BTCUSD", src.Params().Window.Span())
	require.NoError(t, err)

	// 14 days of minutes is 20160 intervals: three searches of at most 10000
	require.Len(t, ranges, 3)
	assert.Equal(t, "2022-01-01T00:00:00Z", ranges[0]["gte"])
	assert.Contains(t, ranges[0], "lt")
	assert.NotContains(t, ranges[0], "lte")
	assert.Equal(t, ranges[0]["lt"], ranges[1]["gte"])
	assert.Equal(t, "2022-01-15T00:00:00Z", ranges[2]["lte"])

	require.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"close", "high", "low", "open", "trade_count", "volume"}, f.Columns())
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), f.First())
	assert.Equal(t, 21.0, f.Value("volume", 1), "duplicate timestamps keep the later document")
	assert.True(t, math.IsNaN(f.Value("trade_count", 1)))
	assert.Equal(t, 7.0, f.Value("trade_count", 2))
}

func TestElastic_FetchOneMissingIndex(t *testing.T) {
	server := httptest.NewServer(esHandler(t, nil))
	defer server.Close()

	src := newElasticSource(t, server.URL, "day", "2022-01-01", "2022-01-10")
	_, err := src.FetchOne(context.Background(), "ETHUSD", src.Params().Window.Span())
	require.Error(t, err)

	var te *perrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.True(t, strings.Contains(err.Error(), "f-ethusd_day"))
}

func TestElastic_ListSymbols(t *testing.T) {
	server := httptest.NewServer(esHandler(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"/_cat/indices/f-*": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			_, _ = w.Write([]byte(`[{"index":"f-ethusd_hour"},{"index":"f-btcusd_hour"},{"index":"f-solusd_day"}]`))
		},
	}))
	defer server.Close()

	src := newElasticSource(t, server.URL, "hour", "2022-01-01", "2022-01-03")
	symbols, err := src.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, symbols)
}
