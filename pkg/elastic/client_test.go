package elastic_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
}

// fakeCluster answers the handful of REST endpoints the adapter uses.
type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body string)
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: query, Body: string(data)})
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r, string(data))
}

func (f *fakeCluster) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) (elastic.Backend, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{handler: handler}
	server := httptest.NewServer(cluster)
	t.Cleanup(server.Close)

	client, err := elastic.NewClient(elastic.Config{Addresses: []string{server.URL}}, zerolog.Nop())
	require.NoError(t, err)
	return elastic.NewBackend(client), cluster
}

func TestESBackend_Exists(t *testing.T) {
	ctx := context.Background()
	backend, cluster := newTestBackend(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		switch r.URL.Path {
		case "/_alias/rollover", "/concrete":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	isAlias, err := backend.AliasExists(ctx, "rollover")
	require.NoError(t, err)
	assert.True(t, isAlias)
	assert.Equal(t, http.MethodHead, cluster.last().Method)

	isAlias, err = backend.AliasExists(ctx, "concrete")
	require.NoError(t, err)
	assert.False(t, isAlias)

	exists, err := backend.IndexExists(ctx, "concrete")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backend.IndexExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestESBackend_CreateAndPutMapping(t *testing.T) {
	ctx := context.Background()
	backend, cluster := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})
	mapping := elastic.Mapping{Properties: map[string]elastic.Property{"llm_output": elastic.StoredText()}}

	require.NoError(t, backend.CreateIndex(ctx, "cache", mapping))
	req := cluster.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/cache", req.Path)
	assert.JSONEq(t, `{"mappings":{"properties":{"llm_output":{"type":"text","index":false}}}}`, req.Body)

	require.NoError(t, backend.PutMapping(ctx, "cache", mapping))
	req = cluster.last()
	assert.Equal(t, "/cache/_mapping", req.Path)
	assert.JSONEq(t, `{"properties":{"llm_output":{"type":"text","index":false}}}`, req.Body)
}

func TestESBackend_Get(t *testing.T) {
	ctx := context.Background()
	backend, cluster := newTestBackend(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"_index":"cache","_id":"missing","found":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"_index":"cache","_id":"abc","found":true,"_source":{"llm_output":["x"]}}`))
	})

	t.Run("Found document", func(t *testing.T) {
		hit, err := backend.Get(ctx, "cache", "abc", []string{"llm_output"})
		require.NoError(t, err)
		assert.Equal(t, "cache", hit.Index)
		assert.JSONEq(t, `{"llm_output":["x"]}`, string(hit.Source))
		req := cluster.last()
		assert.Equal(t, "/cache/_doc/abc", req.Path)
		assert.Equal(t, "llm_output", req.Query["_source_includes"])
	})

	t.Run("Missing document is ErrNotFound", func(t *testing.T) {
		_, err := backend.Get(ctx, "cache", "missing", nil)
		assert.ErrorIs(t, err, elastic.ErrNotFound)
	})
}

func TestESBackend_SearchAndMultiGet(t *testing.T) {
	ctx := context.Background()
	backend, cluster := newTestBackend(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if strings.HasSuffix(r.URL.Path, "/_mget") {
			_, _ = w.Write([]byte(`{"docs":[{"_index":"store","_id":"a","found":false},{"_index":"store","_id":"b","found":true,"_source":{"vector_dump":[1.5]}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[{"_index":"store-2024","_id":"b","_source":{"vector_dump":[1.5]}}]}}`))
	})

	hits, err := backend.MultiGet(ctx, "store", []string{"a", "b"}, []string{"vector_dump"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.False(t, hits[0].Found)
	assert.True(t, hits[1].Found)
	assert.JSONEq(t, `{"ids":["a","b"]}`, cluster.last().Body)

	result, err := backend.Search(ctx, "store", elastic.SearchRequest{
		Query:          map[string]any{"ids": map[string]any{"values": []string{"a", "b"}}},
		Size:           2,
		SourceIncludes: []string{"vector_dump"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "store-2024", result.Hits[0].Index)
	assert.True(t, result.Hits[0].Found)
	req := cluster.last()
	assert.Equal(t, "/store/_search", req.Path)
	assert.JSONEq(t, `{"query":{"ids":{"values":["a","b"]}},"size":2}`, req.Body)
}

func TestESBackend_Bulk(t *testing.T) {
	ctx := context.Background()
	backend, cluster := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"took":3,"errors":true,"items":[
			{"index":{"_index":"store","_id":"a","status":201}},
			{"delete":{"_index":"store","_id":"b","status":404,"result":"not_found"}},
			{"index":{"_index":"store","_id":"c","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}
		]}`))
	})

	t.Run("Empty action list does not reach the cluster", func(t *testing.T) {
		result, err := backend.Bulk(ctx, "store", nil, elastic.WriteOptions{Refresh: true})
		require.NoError(t, err)
		assert.Empty(t, result.Items)
		assert.Empty(t, cluster.requests)
	})

	t.Run("Encodes NDJSON and decodes per-item outcomes", func(t *testing.T) {
		actions := []elastic.BulkAction{
			{Op: elastic.OpIndex, ID: "a", Source: map[string]any{"vector_dump": []float32{1}}},
			{Op: elastic.OpDelete, ID: "b"},
			{Op: elastic.OpIndex, ID: "c", Source: map[string]any{"vector_dump": "bad"}},
		}

		result, err := backend.Bulk(ctx, "store", actions, elastic.WriteOptions{Refresh: true, RequireAlias: true})

		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		failed := result.Failed()
		require.Len(t, failed, 1)
		assert.Equal(t, "c", failed[0].ID)
		assert.Equal(t, "failed to parse", failed[0].Reason)

		req := cluster.last()
		assert.Equal(t, "/store/_bulk", req.Path)
		assert.Equal(t, "true", req.Query["refresh"])
		assert.Equal(t, "true", req.Query["require_alias"])

		var lines []string
		scanner := bufio.NewScanner(strings.NewReader(req.Body))
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		require.Len(t, lines, 5)
		assert.JSONEq(t, `{"index":{"_id":"a"}}`, lines[0])
		assert.JSONEq(t, `{"vector_dump":[1]}`, lines[1])
		assert.JSONEq(t, `{"delete":{"_id":"b"}}`, lines[2])
		assert.JSONEq(t, `{"index":{"_id":"c"}}`, lines[3])
	})
}

func TestESBackend_ErrorEnvelope(t *testing.T) {
	backend, _ := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":  map[string]any{"type": "illegal_argument_exception", "reason": "alias has more than one index"},
			"status": 400,
		})
	})

	err := backend.Index(context.Background(), "alias", "id", map[string]any{"a": 1}, elastic.WriteOptions{RequireAlias: true})

	require.Error(t, err)
	var rerr *elastic.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	assert.Equal(t, "illegal_argument_exception", rerr.Type)
	assert.Contains(t, rerr.Reason, "more than one index")
}

func TestSearchRequest_Body(t *testing.T) {
	query := map[string]any{"term": map[string]any{"_id": "abc"}}

	t.Run("Defaults leave size and sort out", func(t *testing.T) {
		body, err := json.Marshal(elastic.SearchRequest{Query: query}.Body())

		require.NoError(t, err)
		assert.JSONEq(t, `{"query":{"term":{"_id":"abc"}}}`, string(body))
	})

	t.Run("Sort is sent in order", func(t *testing.T) {
		req := elastic.SearchRequest{
			Query: query,
			Size:  1,
			Sort:  []elastic.SortField{elastic.NewestIndexFirst, {Field: "_id"}},
		}

		body, err := json.Marshal(req.Body())

		require.NoError(t, err)
		assert.JSONEq(t, `{"query":{"term":{"_id":"abc"}},"size":1,"sort":[{"_index":"desc"},{"_id":"asc"}]}`, string(body))
	})
}
