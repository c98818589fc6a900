package elastic

import (
	"context"

	"github.com/illmade-knight/go-llmescache/pkg/metrics"
)

// instrumented records the latency of every call in metrics.BackendSeconds.
type instrumented struct {
	next Backend
}

// Instrument wraps a Backend so each call is timed.
func Instrument(next Backend) Backend {
	if next == nil {
		return nil
	}
	return &instrumented{next: next}
}

func (b *instrumented) Ping(ctx context.Context) error {
	defer metrics.Time("ping")()
	return b.next.Ping(ctx)
}

func (b *instrumented) AliasExists(ctx context.Context, name string) (bool, error) {
	defer metrics.Time("exists_alias")()
	return b.next.AliasExists(ctx, name)
}

func (b *instrumented) IndexExists(ctx context.Context, name string) (bool, error) {
	defer metrics.Time("exists")()
	return b.next.IndexExists(ctx, name)
}

func (b *instrumented) CreateIndex(ctx context.Context, name string, mapping Mapping) error {
	defer metrics.Time("create_index")()
	return b.next.CreateIndex(ctx, name, mapping)
}

func (b *instrumented) PutMapping(ctx context.Context, name string, mapping Mapping) error {
	defer metrics.Time("put_mapping")()
	return b.next.PutMapping(ctx, name, mapping)
}

func (b *instrumented) Get(ctx context.Context, index, id string, sourceIncludes []string) (Hit, error) {
	defer metrics.Time("get")()
	return b.next.Get(ctx, index, id, sourceIncludes)
}

func (b *instrumented) Index(ctx context.Context, index, id string, doc any, opts WriteOptions) error {
	defer metrics.Time("index")()
	return b.next.Index(ctx, index, id, doc, opts)
}

func (b *instrumented) DeleteByQuery(ctx context.Context, index string, query map[string]any) error {
	defer metrics.Time("delete_by_query")()
	return b.next.DeleteByQuery(ctx, index, query)
}

func (b *instrumented) MultiGet(ctx context.Context, index string, ids []string, sourceIncludes []string) ([]Hit, error) {
	defer metrics.Time("mget")()
	return b.next.MultiGet(ctx, index, ids, sourceIncludes)
}

func (b *instrumented) Search(ctx context.Context, index string, req SearchRequest) (SearchResult, error) {
	defer metrics.Time("search")()
	return b.next.Search(ctx, index, req)
}

func (b *instrumented) Bulk(ctx context.Context, index string, actions []BulkAction, opts WriteOptions) (BulkResult, error) {
	defer metrics.Time("bulk")()
	return b.next.Bulk(ctx, index, actions, opts)
}
