// Package elastic builds the Elasticsearch client shared by the search-index
// source, the bulk exporter, and the model store.
package elastic

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
)

// MaxResultWindow is the largest page a single search may return.
const MaxResultWindow = 10000

// NewClient creates a client for cfg. Requests are gzip-compressed.
func NewClient(cfg config.ElasticConfig) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elastic: no addresses configured")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed clusters
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:           cfg.Addresses,
		Username:            cfg.Username,
		Password:            cfg.Password,
		Transport:           transport,
		CompressRequestBody: true,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: failed to create client: %w", err)
	}
	return client, nil
}

// ResponseError converts an error response into a TransportError so retry
// classification sees the status code. It returns nil for success responses.
func ResponseError(res *esapi.Response, endpoint string) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	return &perrors.TransportError{
		Endpoint:   endpoint,
		StatusCode: res.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: perrors.ParseRetryAfter(res.Header.Get("Retry-After")),
	}
}
