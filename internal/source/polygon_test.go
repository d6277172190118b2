package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimestamp = int64(1640995200000) // 2022-01-01 00:00:00 UTC

func polygonBar(i int) map[string]interface{} {
	return map[string]interface{}{
		"t":  testTimestamp + int64(i)*3600*1000,
		"o":  47000.5 + float64(i),
		"h":  47500 + float64(i),
		"l":  46500 + float64(i),
		"c":  47200 + float64(i),
		"v":  1.23456789,
		"vw": 47100.25,
		"n":  42,
	}
}

func newPolygonSource(t *testing.T, serverURL string) *Polygon {
	t.Helper()
	cfg := fileConfig(t.TempDir())
	cfg.Endpoint = serverURL
	cfg.APIKey = "secret"
	cfg.TickerPrefix = "X:"
	cfg.RateLimit = 0

	src, err := New(KindPolygon, Request{
		Symbols:  []string{"btcusd"},
		Interval: "hour",
		Start:    "2022-01-01",
		End:      "2022-01-03",
	}, cfg, WithLogger(createTestLogger()), WithRetryPolicy(testRetryPolicy()))
	require.NoError(t, err)
	return src.(*Polygon)
}

func TestPolygon_RequiresAPIKey(t *testing.T) {
	cfg := fileConfig(t.TempDir())
	cfg.APIKey = ""
	_, err := New(KindPolygon, Request{Symbols: []string{"BTCUSD"}, Interval: "hour", Start: "2022-01-01", End: "2022-01-03"}, cfg)
	assert.ErrorIs(t, err, perrors.ErrArgument)
}

func TestPolygon_FetchOneFollowsNextURL(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("cursor") == "page2" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "OK",
				"results": []interface{}{polygonBar(2)},
			})
			return
		}

		assert.Equal(t, "/v2/aggs/ticker/X:BTCUSD/range/1/hour/1640995200000/1641168000000", r.URL.Path)
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "OK",
			"results":  []interface{}{polygonBar(0), polygonBar(1)},
			"next_url": server.URL + r.URL.Path + "?cursor=page2",
		})
	}))
	defer server.Close()

	src := newPolygonSource(t, server.URL)
	f, err := src.FetchOne(context.Background(), "btcusd", src.Params().Window.Span())
	require.NoError(t, err)

	require.Equal(t, 3, f.Len())
	assert.Equal(t, time.Date(2022, 1, 1, 2, 0, 0, 0, time.UTC), f.Last())
	assert.Equal(t, []string{"open", "high", "low", "close", "volume", "transactions", "vwap"}, f.Columns())
	assert.Equal(t, 47000.5, f.Value("open", 0))
	assert.Equal(t, 42.0, f.Value("transactions", 1))
	assert.Equal(t, 47100.25, f.Value("vwap", 2))
}

func TestPolygon_DedupsOverlappingPages(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "page2" {
			repeated := polygonBar(1)
			repeated["c"] = 47999.0
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "OK",
				"results": []interface{}{repeated, polygonBar(2)},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "OK",
			"results":  []interface{}{polygonBar(0), polygonBar(1)},
			"next_url": server.URL + r.URL.Path + "?cursor=page2",
		})
	}))
	defer server.Close()

	src := newPolygonSource(t, server.URL)
	f, err := src.FetchOne(context.Background(), "btcusd", src.Params().Window.Span())
	require.NoError(t, err)

	require.Equal(t, 3, f.Len())
	index := f.Index()
	assert.True(t, index[0].Before(index[1]) && index[1].Before(index[2]))
	assert.Equal(t, 47999.0, f.Value("close", 1), "the later page wins")
}

func TestPolygon_SkipsInvalidBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bad := polygonBar(1)
		bad["o"] = 0
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "OK",
			"results": []interface{}{polygonBar(0), bad},
		})
	}))
	defer server.Close()

	src := newPolygonSource(t, server.URL)
	f, err := src.FetchOne(context.Background(), "btcusd", src.Params().Window.Span())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

func TestPolygon_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "OK",
			"results": []interface{}{polygonBar(0)},
		})
	}))
	defer server.Close()

	src := newPolygonSource(t, server.URL)
	f, err := src.FetchOne(context.Background(), "btcusd", src.Params().Window.Span())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPolygon_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"status":"NOT_AUTHORIZED"}`, http.StatusForbidden)
	}))
	defer server.Close()

	src := newPolygonSource(t, server.URL)
	_, err := src.FetchOne(context.Background(), "btcusd", src.Params().Window.Span())
	require.Error(t, err)

	var te *perrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.False(t, strings.Contains(te.Endpoint, "secret"), "api key leaked into error")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPolygon_ListSymbolsNotSupported(t *testing.T) {
	src := newPolygonSource(t, "http://127.0.0.1:1")
	_, err := src.ListSymbols(context.Background())
	assert.ErrorIs(t, err, perrors.ErrNotSupported)
	assert.Equal(t, "X:ETHUSD", src.Ticker("ethusd"))
}
