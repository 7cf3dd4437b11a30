package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchConfig configures the cluster client.
type ElasticsearchConfig struct {
	URL            string
	Username       string
	Password       string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int
	// Transport overrides the HTTP transport; used by tests.
	Transport http.RoundTripper
}

// Elasticsearch is a Backend talking to an Elasticsearch cluster.
type Elasticsearch struct {
	es      *elasticsearch.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewElasticsearch creates a cluster client. It returns ErrDisabled when no URL is configured.
func NewElasticsearch(cfg ElasticsearchConfig, logger *slog.Logger) (*Elasticsearch, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:  []string{cfg.URL},
		Username:   cfg.Username,
		Password:   cfg.Password,
		APIKey:     cfg.APIKey,
		MaxRetries: cfg.MaxRetries,
		RetryBackoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 100 * time.Millisecond
		},
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}

	return &Elasticsearch{es: es, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func (e *Elasticsearch) Name() string { return "elasticsearch" }

func (e *Elasticsearch) Close() error { return nil }

func (e *Elasticsearch) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Elasticsearch) IndexExists(ctx context.Context, index string) (bool, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Indices.Exists([]string{index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("search: index exists request: %w", err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, responseError("index exists", res)
}

func (e *Elasticsearch) CreateIndex(ctx context.Context, def IndexDefinition) error {
	body, err := json.Marshal(indexBody(def))
	if err != nil {
		return fmt.Errorf("search: encode index definition: %w", err)
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Indices.Create(
		def.Name,
		e.es.Indices.Create.WithBody(bytes.NewReader(body)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index request: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		// Another writer created it between our exists check and this call.
		if ee := decodeError(res); ee != nil && ee.Type == "resource_already_exists_exception" {
			return nil
		}
		return responseError("create index", res)
	}
	return nil
}

func (e *Elasticsearch) IndexDocument(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: encode document %s: %w", id, err)
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Index(
		index,
		bytes.NewReader(body),
		e.es.Index.WithDocumentID(id),
		e.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: index request: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return responseError("index", res)
	}
	return nil
}

func (e *Elasticsearch) DeleteDocument(ctx context.Context, index, id string) (bool, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Delete(index, id, e.es.Delete.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("search: delete request: %w", err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, responseError("delete", res)
	}
	return true, nil
}

func (e *Elasticsearch) DocumentExists(ctx context.Context, index, id string) (bool, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Exists(index, id, e.es.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("search: exists request: %w", err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, responseError("exists", res)
}

func (e *Elasticsearch) Count(ctx context.Context, index string) (int64, error) {
	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Count(e.es.Count.WithIndex(index), e.es.Count.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("search: count request: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return 0, responseError("count", res)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("search: decode count response: %w", err)
	}
	return out.Count, nil
}

func (e *Elasticsearch) Search(ctx context.Context, index, query string, size int) ([]Hit, error) {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{"query": query},
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(index),
		e.es.Search.WithBody(bytes.NewReader(body)),
		e.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, fmt.Errorf("search: query request: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return nil, responseError("query", res)
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID    string  `json:"_id"`
				Score float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode query response: %w", err)
	}
	hits := make([]Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (e *Elasticsearch) Bulk(ctx context.Context, index string, ops []BulkOperation) (*BulkResponse, error) {
	if len(ops) == 0 {
		return &BulkResponse{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := map[string]map[string]string{
			string(op.Action): {"_index": index, "_id": op.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("search: encode bulk directive %s: %w", op.ID, err)
		}
		if op.Action == ActionIndex {
			if err := enc.Encode(op.Document); err != nil {
				return nil, fmt.Errorf("search: encode bulk document %s: %w", op.ID, err)
			}
		}
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()

	res, err := e.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.es.Bulk.WithIndex(index),
		e.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: bulk request: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var raw struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string         `json:"_id"`
			Status int            `json:"status"`
			Error  *BulkItemError `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("search: decode bulk response: %w", err)
	}

	out := &BulkResponse{Errors: raw.Errors, Items: make([]BulkItem, 0, len(raw.Items))}
	for _, entry := range raw.Items {
		for action, item := range entry {
			bi := BulkItem{ID: item.ID, Action: BulkAction(action), Status: item.Status, Error: item.Error}
			// A bulk delete of an absent document is reported as 404 without an error body.
			if bi.Action == ActionDelete && bi.Status == http.StatusNotFound {
				bi.Error = nil
			}
			out.Items = append(out.Items, bi)
		}
	}
	return out, nil
}

// indexBody renders an IndexDefinition as an Elasticsearch create-index body.
func indexBody(def IndexDefinition) map[string]any {
	analyzer := map[string]any{"type": def.Analyzer.Type}
	if def.Analyzer.Stopwords != "" {
		analyzer["stopwords"] = def.Analyzer.Stopwords
	}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   def.Shards,
			"number_of_replicas": def.Replicas,
			"analysis": map[string]any{
				"analyzer": map[string]any{"default": analyzer},
			},
		},
		"mappings": map[string]any{
			"properties": renderProperties(def.Properties),
		},
	}
}

func renderProperties(props map[string]Field) map[string]any {
	out := make(map[string]any, len(props))
	for name, f := range props {
		out[name] = renderField(f)
	}
	return out
}

func renderField(f Field) map[string]any {
	m := map[string]any{"type": string(f.Type)}
	if f.Analyzer != "" {
		m["analyzer"] = f.Analyzer
	}
	if len(f.Properties) > 0 {
		m["properties"] = renderProperties(f.Properties)
	}
	if len(f.Fields) > 0 {
		m["fields"] = renderProperties(f.Fields)
	}
	return m
}

type esError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func decodeError(res *esapi.Response) *esError {
	var body struct {
		Error esError `json:"error"`
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil
	}
	res.Body = io.NopCloser(bytes.NewReader(data))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Type == "" {
		return nil
	}
	return &body.Error
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("search: %s error [%s]: %s", op, res.Status(), bytes.TrimSpace(body))
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
