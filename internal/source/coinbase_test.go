package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coinbaseCandleJSON mirrors the wire format, where every field is a string.
func coinbaseCandleJSON(ts time.Time, i int) map[string]string {
	return map[string]string{
		"start":  strconv.FormatInt(ts.Unix(), 10),
		"open":   fmt.Sprintf("%d.00", 47000+i),
		"high":   fmt.Sprintf("%d.00", 47500+i),
		"low":    fmt.Sprintf("%d.00", 46500+i),
		"close":  fmt.Sprintf("%d.00", 47200+i),
		"volume": "1.23456789",
	}
}

// candleServer serves hourly candles for every requested window, newest first
// like the real API.
type candleServer struct {
	mu       sync.Mutex
	requests []map[string]string
}

func (s *candleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.requests = append(s.requests, map[string]string{
		"path":        r.URL.Path,
		"start":       q.Get("start"),
		"end":         q.Get("end"),
		"granularity": q.Get("granularity"),
	})
	s.mu.Unlock()

	start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
	end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
	var candles []map[string]string
	for ts := end; ts >= start; ts -= 3600 {
		candles = append(candles, coinbaseCandleJSON(time.Unix(ts, 0), int((ts-start)/3600)))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"candles": candles})
}

func newCoinbaseSource(t *testing.T, serverURL, start, end string) *Coinbase {
	t.Helper()
	cfg := fileConfig(t.TempDir())
	cfg.Coinbase.Endpoint = serverURL
	cfg.RateLimit = 0

	src, err := New(KindCoinbase, Request{
		Symbols:  []string{"btcusd"},
		Interval: "hour",
		Start:    start,
		End:      end,
	}, cfg, WithLogger(createTestLogger()), WithRetryPolicy(testRetryPolicy()))
	require.NoError(t, err)
	return src.(*Coinbase)
}

func assertAscending(t *testing.T, f *frame.Frame) {
	t.Helper()
	index := f.Index()
	for i := 1; i < len(index); i++ {
		require.True(t, index[i].After(index[i-1]), "row %d out of order", i)
	}
}

func TestProductID(t *testing.T) {
	tests := map[string]string{
		"BTCUSD":  "BTC-USD",
		"ethusdt": "ETH-USDT",
		"SOLEUR":  "SOL-EUR",
		"ETHBTC":  "ETH-BTC",
		"btc-usd": "BTC-USD",
		"USD":     "USD",
	}
	for symbol, want := range tests {
		assert.Equal(t, want, ProductID(symbol), symbol)
	}
}

func TestCoinbase_FetchOne(t *testing.T) {
	server := &candleServer{}
	ts := httptest.NewServer(server)
	defer ts.Close()

	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-03")
	span := src.Params().Window.Span()

	f, err := src.FetchOne(context.Background(), "BTCUSD", span)
	require.NoError(t, err)

	// 2022-01-01T00 through 2022-01-03T00 inclusive.
	require.Equal(t, 49, f.Len())
	assert.Equal(t, span.Start, f.Index()[0])
	assert.Equal(t, span.End, f.Index()[f.Len()-1])
	assertAscending(t, f)
	assert.Equal(t, frame.Canonical, f.Columns())
	assert.Equal(t, 47000.0, f.Value("open", 0), "open comes from the open field")
	assert.Equal(t, 46500.0, f.Value("low", 0))

	require.Len(t, server.requests, 1)
	req := server.requests[0]
	assert.Equal(t, "/api/v3/brokerage/market/products/BTC-USD/candles", req["path"])
	assert.Equal(t, "ONE_HOUR", req["granularity"])
	assert.Equal(t, "1640995200", req["start"])
	assert.Equal(t, "1641168000", req["end"])
}

func TestCoinbase_FetchOneChunksLongSpans(t *testing.T) {
	server := &candleServer{}
	ts := httptest.NewServer(server)
	defer ts.Close()

	// 31 days of hours is 721 candles, which takes three requests.
	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-31")
	f, err := src.FetchOne(context.Background(), "BTCUSD", src.Params().Window.Span())
	require.NoError(t, err)

	assert.Equal(t, 721, f.Len())
	assertAscending(t, f)
	require.Len(t, server.requests, 3)
	for i, req := range server.requests {
		start, _ := strconv.ParseInt(req["start"], 10, 64)
		end, _ := strconv.ParseInt(req["end"], 10, 64)
		assert.LessOrEqual(t, (end-start)/3600+1, int64(maxCandlesPerRequest), "request %d", i)
	}
}

func TestCoinbase_SkipsMalformedCandles(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		good := coinbaseCandleJSON(time.Date(2022, 1, 1, 1, 0, 0, 0, time.UTC), 0)
		badStart := coinbaseCandleJSON(time.Date(2022, 1, 1, 2, 0, 0, 0, time.UTC), 0)
		badStart["start"] = "invalid_timestamp"
		negative := coinbaseCandleJSON(time.Date(2022, 1, 1, 3, 0, 0, 0, time.UTC), 0)
		negative["low"] = "-1"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candles": []interface{}{good, badStart, negative},
		})
	}))
	defer ts.Close()

	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-03")
	f, err := src.FetchOne(context.Background(), "BTCUSD", src.Params().Window.Span())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

func TestCoinbase_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	inner := &candleServer{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"internal_server_error"}`))
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer ts.Close()

	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-03")
	f, err := src.FetchOne(context.Background(), "BTCUSD", src.Params().Window.Span())
	require.NoError(t, err)
	assert.Equal(t, 49, f.Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoinbase_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND","message":"product not found"}`))
	}))
	defer ts.Close()

	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-03")
	_, err := src.FetchOne(context.Background(), "INVALIDPAIR", src.Params().Window.Span())
	require.Error(t, err)

	var te *perrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoinbase_ListSymbols(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/market/products", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"products": []map[string]interface{}{
				{"product_id": "ETH-USD", "status": "online"},
				{"product_id": "BTC-USD", "status": "online"},
				{"product_id": "OLD-USD", "status": "delisted"},
				{"product_id": "HALT-USD", "status": "online", "trading_disabled": true},
			},
		})
	}))
	defer ts.Close()

	src := newCoinbaseSource(t, ts.URL, "2022-01-01", "2022-01-03")
	symbols, err := src.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, symbols)
}

func TestCoinbase_InvalidEndpoint(t *testing.T) {
	cfg := fileConfig(t.TempDir())
	cfg.Coinbase.Endpoint = "::not a url"
	_, err := New(KindCoinbase, Request{Symbols: []string{"BTCUSD"}, Interval: "hour", Start: "2022-01-01", End: "2022-01-03"}, cfg)
	assert.ErrorIs(t, err, perrors.ErrArgument)
}
