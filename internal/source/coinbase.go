package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	candlesEndpoint  = "/api/v3/brokerage/market/products/%s/candles"
	productsEndpoint = "/api/v3/brokerage/market/products"

	// Coinbase serves at most this many candles per request.
	maxCandlesPerRequest = 300
)

// quoteCurrencies are tried, longest first, when splitting a symbol such as
// BTCUSDT into a product id.
var quoteCurrencies = []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"}

// Coinbase fetches candles from the Coinbase Advanced Trade public market API.
type Coinbase struct {
	base
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retrier     *perrors.Retrier
	baseURL     string
}

func newCoinbase(b base, cfg config.SourceConfig, o options) (*Coinbase, error) {
	endpoint, err := url.Parse(cfg.Coinbase.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, perrors.NewArgumentError("coinbase.endpoint", "invalid endpoint %q", cfg.Coinbase.Endpoint)
	}
	if _, err := granularity(b.interval()); err != nil {
		return nil, err
	}

	return &Coinbase{
		base:        b,
		httpClient:  httpClientFor(cfg, o),
		rateLimiter: limiterFor(cfg),
		retrier:     perrors.NewRetrier(o.retry, b.logger),
		baseURL:     strings.TrimRight(cfg.Coinbase.Endpoint, "/"),
	}, nil
}

// ProductID maps a pipeline symbol to a Coinbase product, e.g. BTCUSD to
// BTC-USD. Symbols already in product form pass through upper-cased.
func ProductID(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range quoteCurrencies {
		if len(s) > len(quote) && strings.HasSuffix(s, quote) {
			return s[:len(s)-len(quote)] + "-" + quote
		}
	}
	return s
}

// FetchOne downloads span in requests of at most maxCandlesPerRequest
// candles and returns them in ascending order.
func (c *Coinbase) FetchOne(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error) {
	gran, err := granularity(c.interval())
	if err != nil {
		return nil, err
	}
	product := ProductID(symbol)
	step := c.interval().Duration()
	chunk := step * maxCandlesPerRequest

	seen := make(map[int64]models.Candle)
	for start := span.Start; !start.After(span.End); start = start.Add(chunk) {
		end := start.Add(chunk - step)
		if end.After(span.End) {
			end = span.End
		}

		resp, err := c.fetchChunk(ctx, product, gran, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s from %s to %s: %w",
				product, start.Format(time.RFC3339), end.Format(time.RFC3339), err)
		}

		for _, raw := range resp.Candles {
			candle, err := raw.toCandle()
			if err != nil {
				c.logger.Warn("skipping unparsable candle", "symbol", symbol, "error", err)
				continue
			}
			if err := candle.Validate(); err != nil {
				c.logger.Warn("skipping invalid candle", "symbol", symbol, "error", err)
				continue
			}
			if span.Contains(candle.Timestamp) {
				seen[candle.Timestamp.Unix()] = candle
			}
		}
	}

	candles := make([]models.Candle, 0, len(seen))
	for _, candle := range seen {
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	c.logger.Debug("fetched candles", "symbol", symbol, "product", product, "count", len(candles))
	return frame.FromCandles(candles), nil
}

// ListSymbols returns the tradable product ids, sorted.
func (c *Coinbase) ListSymbols(ctx context.Context) ([]string, error) {
	var resp productsResponse
	if err := c.getJSON(ctx, "coinbase products", c.baseURL+productsEndpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	symbols := make([]string, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.TradingDisabled || p.IsDisabled || (p.Status != "" && p.Status != "online") {
			continue
		}
		symbols = append(symbols, p.ProductID)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (c *Coinbase) fetchChunk(ctx context.Context, product, gran string, start, end time.Time) (*candlesResponse, error) {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("granularity", gran)
	requestURL := c.baseURL + fmt.Sprintf(candlesEndpoint, url.PathEscape(product)) + "?" + params.Encode()

	var out candlesResponse
	if err := c.getJSON(ctx, "coinbase candles", requestURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Coinbase) getJSON(ctx context.Context, op, requestURL string, out interface{}) error {
	return c.retrier.Do(ctx, op, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		body, err := httpGet(ctx, c.httpClient, requestURL)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", op, err)
		}
		return nil
	})
}

func granularity(interval models.Interval) (string, error) {
	switch interval {
	case models.Minute:
		return "ONE_MINUTE", nil
	case models.Hour:
		return "ONE_HOUR", nil
	case models.Day:
		return "ONE_DAY", nil
	default:
		return "", perrors.NewArgumentError("interval", "unsupported interval %q", interval)
	}
}

// API response structures

type candlesResponse struct {
	Candles []coinbaseCandle `json:"candles"`
}

// coinbaseCandle carries every field as a string, the start time included.
type coinbaseCandle struct {
	Start  string          `json:"start"`
	Low    decimal.Decimal `json:"low"`
	High   decimal.Decimal `json:"high"`
	Open   decimal.Decimal `json:"open"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

func (c coinbaseCandle) toCandle() (models.Candle, error) {
	start, err := strconv.ParseInt(c.Start, 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid start %q: %w", c.Start, err)
	}
	return models.Candle{
		Timestamp: time.Unix(start, 0).UTC(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}, nil
}

type productsResponse struct {
	Products []coinbaseProduct `json:"products"`
}

type coinbaseProduct struct {
	ProductID       string `json:"product_id"`
	BaseCurrencyID  string `json:"base_currency_id"`
	QuoteCurrencyID string `json:"quote_currency_id"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
	IsDisabled      bool   `json:"is_disabled"`
}
