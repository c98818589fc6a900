// Package elastic holds the contract between the caches and the document
// search backend, an adapter that satisfies it with the official
// go-elasticsearch client, and the index/alias provisioning run when a cache
// is constructed.
package elastic

import (
	"context"
	"encoding/json"
)

// ====================================================================================
// This file defines the Backend interface that abstracts the Elasticsearch client.
// Caches depend only on this interface, so they can be exercised against the
// in-memory implementation in the elastictest package.
// ====================================================================================

// Backend is the set of search-backend calls the caches rely on.
//
// Implementations must be safe for concurrent use. Each call blocks until the
// backend has answered; there is no retry.
type Backend interface {
	// Ping reports whether the cluster is reachable.
	Ping(ctx context.Context) error
	// AliasExists reports whether name resolves to an alias.
	AliasExists(ctx context.Context, name string) (bool, error)
	// IndexExists reports whether name resolves to an index or an alias.
	IndexExists(ctx context.Context, name string) (bool, error)
	// CreateIndex creates a concrete index with the given mapping.
	CreateIndex(ctx context.Context, name string, mapping Mapping) error
	// PutMapping pushes a non-destructive mapping update onto an index or alias.
	PutMapping(ctx context.Context, name string, mapping Mapping) error

	// Get fetches one document by id. A missing document or index returns an
	// error matching ErrNotFound.
	Get(ctx context.Context, index, id string, sourceIncludes []string) (Hit, error)
	// Index creates or fully replaces the document with the given id.
	Index(ctx context.Context, index, id string, doc any, opts WriteOptions) error
	// DeleteByQuery deletes every matching document and returns once the
	// deletion has completed and is visible to searches.
	DeleteByQuery(ctx context.Context, index string, query map[string]any) error
	// MultiGet fetches documents by id; the result has one Hit per id, in order,
	// with Found=false for missing ids.
	MultiGet(ctx context.Context, index string, ids []string, sourceIncludes []string) ([]Hit, error)
	// Search runs a query across every index behind name.
	Search(ctx context.Context, index string, req SearchRequest) (SearchResult, error)
	// Bulk submits all actions as a single request and reports the outcome of
	// each one. An empty action list is valid and does no work.
	Bulk(ctx context.Context, index string, actions []BulkAction, opts WriteOptions) (BulkResult, error)
}

// Hit is a document returned by Get, MultiGet or Search.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// SortField orders search hits by one field.
type SortField struct {
	Field string
	Desc  bool
}

// NewestIndexFirst sorts hits by index name, greatest first. Rolled-over
// index names are assumed to sort chronologically.
var NewestIndexFirst = SortField{Field: "_index", Desc: true}

// SearchRequest is the subset of the search API the caches use.
type SearchRequest struct {
	Query map[string]any
	// Size caps the number of hits; zero leaves the backend default.
	Size int
	// Sort is applied before Size truncates the hits.
	Sort           []SortField
	SourceIncludes []string
}

// Body returns the JSON request body.
func (r SearchRequest) Body() map[string]any {
	body := map[string]any{"query": r.Query}
	if r.Size > 0 {
		body["size"] = r.Size
	}
	if len(r.Sort) > 0 {
		sorts := make([]map[string]string, len(r.Sort))
		for i, f := range r.Sort {
			order := "asc"
			if f.Desc {
				order = "desc"
			}
			sorts[i] = map[string]string{f.Field: order}
		}
		body["sort"] = sorts
	}
	return body
}

// SearchResult carries the total hit count and the returned hits.
type SearchResult struct {
	Total int
	Hits  []Hit
}

// Op is a bulk action type.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// BulkAction is one index or delete inside a bulk request. Source is ignored
// for deletes.
type BulkAction struct {
	Op     Op
	ID     string
	Source any
}

// WriteOptions control an index or bulk request as a whole.
type WriteOptions struct {
	// Refresh makes the changes visible to reads before the call returns.
	Refresh bool
	// RequireAlias rejects the actions unless the target is an alias.
	RequireAlias bool
}

// BulkItem is the backend's answer for a single action.
type BulkItem struct {
	Op        Op
	Index     string
	ID        string
	Status    int
	ErrorType string
	Reason    string
}

// Failed reports whether the action did not apply. Deleting a document that is
// already gone counts as success.
func (i BulkItem) Failed() bool {
	if i.ErrorType != "" {
		return true
	}
	if i.Op == OpDelete && i.Status == 404 {
		return false
	}
	return i.Status < 200 || i.Status > 299
}

// BulkResult holds the per-action outcome of a bulk request, in request order.
type BulkResult struct {
	Items []BulkItem
}

// Failed returns the items that did not apply, in request order.
func (r BulkResult) Failed() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		if item.Failed() {
			failed = append(failed, item)
		}
	}
	return failed
}
