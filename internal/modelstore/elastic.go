package modelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/elastic"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
)

// indexMapping keeps list and text fields as keywords so filters match
// whole values.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id":            {"type": "keyword"},
      "artifact":      {"type": "binary"},
      "performance":   {"type": "double"},
      "description":   {"type": "keyword"},
      "columns_list":  {"type": "keyword"},
      "tags":          {"type": "keyword"},
      "creation_date": {"type": "date"},
      "meta":          {"type": "object", "enabled": false}
    }
  }
}`

// ElasticStore keeps one document per model in a single index and pages
// with search_after on (creation_date, id).
type ElasticStore struct {
	options
	client  *elasticsearch.Client
	index   string
	retrier *perrors.Retrier
}

// NewElasticStore creates a store writing to index. A nil client is built
// from cfg.
func NewElasticStore(client *elasticsearch.Client, cfg config.ElasticConfig, index string, retry config.RetryPolicyConfig, opts ...Option) (*ElasticStore, error) {
	if client == nil {
		var err error
		if client, err = elastic.NewClient(cfg); err != nil {
			return nil, newStoreError("elastic", "open", err)
		}
	}
	if index == "" {
		return nil, perrors.NewArgumentError("index", "must not be empty")
	}
	o := newOptions("elastic", opts)
	if o.pageLimit > elastic.MaxResultWindow {
		o.pageLimit = elastic.MaxResultWindow
	}
	return &ElasticStore{
		options: o,
		client:  client,
		index:   index,
		retrier: perrors.NewRetrier(retry, o.logger),
	}, nil
}

// Initialize creates the index with its mapping unless it already exists.
func (s *ElasticStore) Initialize(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return newStoreError("elastic", "initialize", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return newStoreError("elastic", "initialize", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusBadRequest {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return newStoreError("elastic", "initialize", &perrors.TransportError{
			Endpoint: s.index, StatusCode: res.StatusCode, Body: string(body),
		})
	}
	if err := elastic.ResponseError(res, s.index); err != nil {
		return newStoreError("elastic", "initialize", err)
	}
	s.logger.Info("created model index", "index", s.index)
	return nil
}

// Store implements Store. The document is refreshed immediately so a
// following Get sees it.
func (s *ElasticStore) Store(ctx context.Context, m *MetaModel) error {
	if err := prepare(m, s.now); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return newStoreError("elastic", "store", fmt.Errorf("failed to encode model: %w", err))
	}

	err = s.retrier.Do(ctx, "elastic index model", func() error {
		res, err := s.client.Index(s.index, bytes.NewReader(body),
			s.client.Index.WithContext(ctx),
			s.client.Index.WithDocumentID(m.ID),
			s.client.Index.WithRefresh("true"),
		)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()
		return elastic.ResponseError(res, s.index+"/_doc")
	})
	if err != nil {
		return newStoreError("elastic", "store", err)
	}

	s.metrics.ModelStored("elastic")
	s.logger.Debug("model stored", "id", m.ID, "tags", m.Tags)
	return nil
}

// Get implements Store.
func (s *ElasticStore) Get(ctx context.Context, filter Filter) ([]*MetaModel, error) {
	models, err := collectPages(ctx, s.pageLimit, func(ctx context.Context, after *Cursor, limit int) ([]*MetaModel, error) {
		return s.search(ctx, filter, after, limit)
	})
	if err != nil {
		return nil, newStoreError("elastic", "get", err)
	}
	// The index stores dates at millisecond precision, so the creation_date
	// term can match neighbours. Re-check every hit and restore the exact order.
	exact := models[:0]
	for _, m := range models {
		if filter.Match(m) {
			exact = append(exact, m)
		}
	}
	sort.SliceStable(exact, func(i, j int) bool { return lessModel(exact[i], exact[j]) })
	return exact, nil
}

func filterClauses(f Filter) []interface{} {
	term := func(field string, value interface{}) interface{} {
		return map[string]interface{}{"term": map[string]interface{}{field: value}}
	}
	clauses := []interface{}{}
	for _, tag := range f.Tags {
		clauses = append(clauses, term("tags", tag))
	}
	for _, name := range f.Columns {
		clauses = append(clauses, term("columns_list", name))
	}
	if f.Performance != nil {
		clauses = append(clauses, term("performance", *f.Performance))
	}
	if f.Description != "" {
		clauses = append(clauses, term("description", f.Description))
	}
	if f.CreationDate != nil {
		clauses = append(clauses, term("creation_date", f.CreationDate.UTC().Format(time.RFC3339Nano)))
	}
	return clauses
}

func (s *ElasticStore) search(ctx context.Context, filter Filter, after *Cursor, limit int) ([]*MetaModel, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filterClauses(filter)},
		},
		"sort": []interface{}{
			map[string]interface{}{"creation_date": "asc"},
			map[string]interface{}{"id": "asc"},
		},
	}
	if after != nil {
		query["search_after"] = []interface{}{after.CreationDate.UnixMilli(), after.ID}
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source MetaModel `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err = s.retrier.Do(ctx, "elastic search models", func() error {
		res, err := s.client.Search(
			s.client.Search.WithContext(ctx),
			s.client.Search.WithIndex(s.index),
			s.client.Search.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()

		if err := elastic.ResponseError(res, s.index+"/_search"); err != nil {
			return err
		}
		return json.NewDecoder(res.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}

	page := make([]*MetaModel, 0, len(result.Hits.Hits))
	for i := range result.Hits.Hits {
		m := result.Hits.Hits[i].Source
		m.CreationDate = m.CreationDate.UTC()
		page = append(page, &m)
	}
	return page, nil
}

// Close implements Store.
func (s *ElasticStore) Close() error { return nil }
