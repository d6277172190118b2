package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"golang.org/x/time/rate"
)

const userAgent = "go-ohlcv-pipeline/1.0"

// httpClientFor returns the injected client or one built from cfg.
func httpClientFor(cfg config.SourceConfig, o options) *http.Client {
	if o.httpClient != nil {
		return o.httpClient
	}
	return &http.Client{
		Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// limiterFor allows cfg.RateLimit requests per second; zero is unlimited.
func limiterFor(cfg config.SourceConfig) *rate.Limiter {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return rate.NewLimiter(limit, 1)
}

// httpGet performs one GET and turns error statuses into TransportErrors so
// the retrier can classify them.
func httpGet(ctx context.Context, client *http.Client, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &perrors.TransportError{
			Endpoint:   redact(req.URL),
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: perrors.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
