package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster is a minimal Elasticsearch HTTP surface recording every request.
type fakeCluster struct {
	mu       sync.Mutex
	indexes  map[string]json.RawMessage
	docs     map[string]map[string]json.RawMessage
	requests []string
	bulkBody []byte
	reject   map[string]bool
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		indexes: map[string]json.RawMessage{},
		docs:    map[string]map[string]json.RawMessage{},
		reject:  map[string]bool{},
	}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	body, _ := io.ReadAll(r.Body)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	index := parts[0]

	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if _, ok := f.indexes[index]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut && len(parts) == 1:
		if _, ok := f.indexes[index]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception","reason":"exists"},"status":400}`))
			return
		}
		f.indexes[index] = body
		f.docs[index] = map[string]json.RawMessage{}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))

	case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "_doc":
		if _, ok := f.indexes[index]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`))
			return
		}
		f.docs[index][parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))

	case r.Method == http.MethodHead && len(parts) == 3 && parts[1] == "_doc":
		if _, ok := f.docs[index][parts[2]]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodDelete && len(parts) == 3 && parts[1] == "_doc":
		if _, ok := f.docs[index][parts[2]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result":"not_found"}`))
			return
		}
		delete(f.docs[index], parts[2])
		_, _ = w.Write([]byte(`{"result":"deleted"}`))

	case len(parts) == 2 && parts[1] == "_count":
		_, _ = w.Write([]byte(`{"count":` + itoa(len(f.docs[index])) + `}`))

	case len(parts) == 2 && parts[1] == "_bulk":
		f.bulkBody = body
		f.handleBulk(w, index, body)

	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"unexpected","reason":"` + r.Method + ` ` + r.URL.Path + `"}}`))
	}
}

func (f *fakeCluster) handleBulk(w http.ResponseWriter, index string, body []byte) {
	type result struct {
		ID     string         `json:"_id"`
		Status int            `json:"status"`
		Error  *BulkItemError `json:"error,omitempty"`
	}
	var items []map[string]result
	hasErrors := false

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var meta map[string]struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
			continue
		}
		for action, m := range meta {
			switch action {
			case "index":
				sc.Scan()
				if f.reject[m.ID] {
					hasErrors = true
					items = append(items, map[string]result{action: {ID: m.ID, Status: 400, Error: &BulkItemError{Type: "mapper_parsing_exception", Reason: "failed to parse field [createdAt]"}}})
					continue
				}
				f.docs[index][m.ID] = append(json.RawMessage(nil), sc.Bytes()...)
				items = append(items, map[string]result{action: {ID: m.ID, Status: 201}})
			case "delete":
				if _, ok := f.docs[index][m.ID]; !ok {
					items = append(items, map[string]result{action: {ID: m.ID, Status: 404}})
					continue
				}
				delete(f.docs[index], m.ID)
				items = append(items, map[string]result{action: {ID: m.ID, Status: 200}})
			}
		}
	}
	out, _ := json.Marshal(map[string]any{"took": 1, "errors": hasErrors, "items": items})
	_, _ = w.Write(out)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestElasticsearch(t *testing.T) (*Elasticsearch, *fakeCluster) {
	t.Helper()
	cluster := newFakeCluster()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	es, err := NewElasticsearch(ElasticsearchConfig{URL: srv.URL, MaxRetries: 0}, nil)
	require.NoError(t, err)
	return es, cluster
}

func testDefinition(name string) IndexDefinition {
	return IndexDefinition{
		Name:     name,
		Shards:   1,
		Replicas: 2,
		Analyzer: Analyzer{Type: "standard", Stopwords: "_english_"},
		Properties: map[string]Field{
			"name": {Type: TypeText, Fields: map[string]Field{"keyword": {Type: TypeKeyword}}},
			"tags": {Type: TypeNested, Properties: map[string]Field{"id": {Type: TypeLong}}},
		},
	}
}

func TestNewElasticsearch_DisabledWithoutURL(t *testing.T) {
	es, err := NewElasticsearch(ElasticsearchConfig{}, nil)
	assert.Nil(t, es)
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestElasticsearch_CreateIndex(t *testing.T) {
	es, cluster := newTestElasticsearch(t)
	ctx := context.Background()

	exists, err := es.IndexExists(ctx, "cases")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, es.CreateIndex(ctx, testDefinition("cases")))

	exists, err = es.IndexExists(ctx, "cases")
	require.NoError(t, err)
	assert.True(t, exists)

	var body map[string]any
	require.NoError(t, json.Unmarshal(cluster.indexes["cases"], &body))
	settings := body["settings"].(map[string]any)
	assert.EqualValues(t, 1, settings["number_of_shards"])
	assert.EqualValues(t, 2, settings["number_of_replicas"])
	analyzer := settings["analysis"].(map[string]any)["analyzer"].(map[string]any)["default"].(map[string]any)
	assert.Equal(t, "standard", analyzer["type"])
	assert.Equal(t, "_english_", analyzer["stopwords"])

	props := body["mappings"].(map[string]any)["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "text", name["type"])
	assert.Equal(t, "keyword", name["fields"].(map[string]any)["keyword"].(map[string]any)["type"])
	assert.Equal(t, "nested", props["tags"].(map[string]any)["type"])

	// A concurrent creator winning the race is not an error.
	assert.NoError(t, es.CreateIndex(ctx, testDefinition("cases")))
}

func TestElasticsearch_IndexAndDelete(t *testing.T) {
	es, cluster := newTestElasticsearch(t)
	ctx := context.Background()
	require.NoError(t, es.CreateIndex(ctx, testDefinition("cases")))

	require.NoError(t, es.IndexDocument(ctx, "cases", "7", map[string]any{"name": "Login"}))
	assert.JSONEq(t, `{"name":"Login"}`, string(cluster.docs["cases"]["7"]))

	ok, err := es.DocumentExists(ctx, "cases", "7")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := es.Count(ctx, "cases")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := es.DeleteDocument(ctx, "cases", "7")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = es.DeleteDocument(ctx, "cases", "7")
	require.NoError(t, err, "deleting an absent document is not an error")
	assert.False(t, found)
}

func TestElasticsearch_IndexDocumentError(t *testing.T) {
	es, _ := newTestElasticsearch(t)
	err := es.IndexDocument(context.Background(), "missing", "1", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_not_found_exception")
}

func TestElasticsearch_BulkPartialFailure(t *testing.T) {
	es, cluster := newTestElasticsearch(t)
	ctx := context.Background()
	require.NoError(t, es.CreateIndex(ctx, testDefinition("cases")))
	cluster.reject["2"] = true

	res, err := es.Bulk(ctx, "cases", []BulkOperation{
		{Action: ActionIndex, ID: "1", Document: map[string]any{"name": "a"}},
		{Action: ActionIndex, ID: "2", Document: map[string]any{"name": "b"}},
		{Action: ActionIndex, ID: "3", Document: map[string]any{"name": "c"}},
		{Action: ActionDelete, ID: "99"},
	})
	require.NoError(t, err)
	assert.True(t, res.Errors)
	require.Len(t, res.Items, 4)
	assert.Equal(t, []string{"1", "2", "3", "99"}, []string{res.Items[0].ID, res.Items[1].ID, res.Items[2].ID, res.Items[3].ID})

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "2", failures[0].ID)
	assert.Equal(t, "mapper_parsing_exception", failures[0].Error.Type)
	assert.False(t, res.Items[3].Failed(), "absent delete is not a failure")

	assert.Contains(t, cluster.docs["cases"], "1")
	assert.Contains(t, cluster.docs["cases"], "3")
	assert.NotContains(t, cluster.docs["cases"], "2")

	lines := strings.Split(strings.TrimSpace(string(cluster.bulkBody)), "\n")
	assert.Len(t, lines, 7, "one directive plus one source line per index, one directive per delete")
	assert.JSONEq(t, `{"index":{"_index":"cases","_id":"1"}}`, lines[0])
}

func TestElasticsearch_BulkEmpty(t *testing.T) {
	es, cluster := newTestElasticsearch(t)
	res, err := es.Bulk(context.Background(), "cases", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Empty(t, cluster.requests)
}
