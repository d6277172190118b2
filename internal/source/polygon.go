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
	aggregatesEndpoint = "/v2/aggs/ticker/%s/range/1/%s/%d/%d"

	// Largest page the aggregates endpoint serves.
	maxBarsPerRequest = 50000

	// Safety net against a next_url loop.
	maxPages = 1000
)

// Polygon fetches aggregate bars from a Polygon-style vendor REST API.
type Polygon struct {
	base
	httpClient   *http.Client
	rateLimiter  *rate.Limiter
	retrier      *perrors.Retrier
	baseURL      string
	apiKey       string
	tickerPrefix string
}

func newPolygon(b base, cfg config.SourceConfig, o options) (*Polygon, error) {
	if cfg.APIKey == "" {
		return nil, perrors.NewArgumentError("api_key", "polygon source requires an API key")
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, perrors.NewArgumentError("endpoint", "invalid endpoint %q", cfg.Endpoint)
	}

	return &Polygon{
		base:         b,
		httpClient:   httpClientFor(cfg, o),
		rateLimiter:  limiterFor(cfg),
		retrier:      perrors.NewRetrier(o.retry, b.logger),
		baseURL:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		tickerPrefix: cfg.TickerPrefix,
	}, nil
}

// Ticker maps a pipeline symbol to the vendor ticker, e.g. BTCUSD to X:BTCUSD.
func (p *Polygon) Ticker(symbol string) string {
	return p.tickerPrefix + strings.ToUpper(symbol)
}

// FetchOne downloads every bar in span, following next_url pages, and
// returns the bars sorted with duplicate timestamps removed.
func (p *Polygon) FetchOne(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error) {
	timespan, err := p.timespan()
	if err != nil {
		return nil, err
	}

	requestURL := p.baseURL + fmt.Sprintf(aggregatesEndpoint,
		url.PathEscape(p.Ticker(symbol)), timespan, span.Start.UnixMilli(), span.End.UnixMilli())
	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("sort", "asc")
	params.Set("limit", strconv.Itoa(maxBarsPerRequest))
	requestURL += "?" + params.Encode()

	var candles []models.Candle
	seen := make(map[int64]int)
	for page := 0; requestURL != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("polygon: more than %d pages for %s", maxPages, symbol)
		}

		resp, err := p.fetchPage(ctx, requestURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d of %s: %w", page, symbol, err)
		}

		for _, bar := range resp.Results {
			candle := bar.toCandle()
			if err := candle.Validate(); err != nil {
				p.logger.Warn("skipping invalid bar", "symbol", symbol, "error", err)
				continue
			}
			if !span.Contains(candle.Timestamp) {
				continue
			}
			// Pages can overlap; the later copy of a bar wins.
			if i, ok := seen[bar.Timestamp]; ok {
				candles[i] = candle
				continue
			}
			seen[bar.Timestamp] = len(candles)
			candles = append(candles, candle)
		}
		requestURL = resp.NextURL
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	p.logger.Debug("fetched bars", "symbol", symbol, "count", len(candles))
	return frame.FromCandles(candles), nil
}

// ListSymbols is not offered by the aggregates API.
func (p *Polygon) ListSymbols(context.Context) ([]string, error) {
	return nil, p.unsupported("list_symbols")
}

func (p *Polygon) timespan() (string, error) {
	switch p.interval() {
	case models.Minute:
		return "minute", nil
	case models.Hour:
		return "hour", nil
	case models.Day:
		return "day", nil
	default:
		return "", perrors.NewArgumentError("interval", "unsupported interval %q", p.interval())
	}
}

func (p *Polygon) fetchPage(ctx context.Context, pageURL string) (*aggregatesResponse, error) {
	signed, err := p.sign(pageURL)
	if err != nil {
		return nil, err
	}

	var out aggregatesResponse
	err = p.retrier.Do(ctx, "polygon aggregates", func() error {
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		body, err := httpGet(ctx, p.httpClient, signed)
		if err != nil {
			return err
		}

		out = aggregatesResponse{}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("failed to parse aggregates response: %w", err)
		}
		if out.Status == "ERROR" || out.Status == "NOT_AUTHORIZED" {
			return fmt.Errorf("polygon returned status %s: %s", out.Status, out.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// sign attaches the API key. next_url links carry the cursor but not the key.
func (p *Polygon) sign(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	q := u.Query()
	q.Set("apiKey", p.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// API response structures

type aggregatesResponse struct {
	Ticker       string         `json:"ticker"`
	Status       string         `json:"status"`
	Error        string         `json:"error"`
	ResultsCount int            `json:"resultsCount"`
	Results      []aggregateBar `json:"results"`
	NextURL      string         `json:"next_url"`
}

type aggregateBar struct {
	Timestamp    int64            `json:"t"`
	Open         decimal.Decimal  `json:"o"`
	High         decimal.Decimal  `json:"h"`
	Low          decimal.Decimal  `json:"l"`
	Close        decimal.Decimal  `json:"c"`
	Volume       decimal.Decimal  `json:"v"`
	VWAP         *decimal.Decimal `json:"vw,omitempty"`
	Transactions *decimal.Decimal `json:"n,omitempty"`
}

func (b aggregateBar) toCandle() models.Candle {
	c := models.Candle{
		Timestamp: time.UnixMilli(b.Timestamp).UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
	if b.VWAP != nil || b.Transactions != nil {
		c.Extras = make(map[string]decimal.Decimal, 2)
		if b.VWAP != nil {
			c.Extras["vwap"] = *b.VWAP
		}
		if b.Transactions != nil {
			c.Extras["transactions"] = *b.Transactions
		}
	}
	return c
}
