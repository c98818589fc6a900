// Package elastictest provides an in-memory elastic.Backend for tests. It
// models concrete indices, aliases that front several indices, write routing
// through an alias' write index, bulk per-item outcomes and fault injection.
package elastictest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/illmade-knight/go-llmescache/pkg/elastic"
)

// Operation names used by Calls, CallCount and FailOn.
const (
	OpPing          = "ping"
	OpAliasExists   = "alias_exists"
	OpIndexExists   = "index_exists"
	OpCreateIndex   = "create_index"
	OpPutMapping    = "put_mapping"
	OpGet           = "get"
	OpIndex         = "index"
	OpDeleteByQuery = "delete_by_query"
	OpMultiGet      = "mget"
	OpSearch        = "search"
	OpBulk          = "bulk"
)

// Call records the arguments of one backend call.
type Call struct {
	Op             string
	Target         string
	ID             string
	IDs            []string
	SourceIncludes []string
	Query          map[string]any
	Search         elastic.SearchRequest
	Mapping        elastic.Mapping
	Actions        []elastic.BulkAction
	Options        elastic.WriteOptions
}

type alias struct {
	members    []string
	writeIndex string
}

type bulkFailure struct {
	status    int
	errorType string
	reason    string
}

// Backend is a thread-safe in-memory elastic.Backend.
type Backend struct {
	mu       sync.Mutex
	indices  map[string]map[string]json.RawMessage
	mappings map[string]elastic.Mapping
	aliases  map[string]*alias
	calls    []Call
	failures map[string]error
	bulkFail map[string]bulkFailure
}

// New returns an empty backend with no indices.
func New() *Backend {
	return &Backend{
		indices:  make(map[string]map[string]json.RawMessage),
		mappings: make(map[string]elastic.Mapping),
		aliases:  make(map[string]*alias),
		failures: make(map[string]error),
		bulkFail: make(map[string]bulkFailure),
	}
}

var _ elastic.Backend = (*Backend)(nil)

// AddIndex creates an empty concrete index.
func (b *Backend) AddIndex(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureIndex(name)
}

// AddAlias points alias at members, creating missing member indices. Writes
// through the alias go to writeIndex.
func (b *Backend) AddAlias(name, writeIndex string, members ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range members {
		b.ensureIndex(m)
	}
	b.aliases[name] = &alias{members: members, writeIndex: writeIndex}
}

// Put stores a document directly, bypassing call recording.
func (b *Backend) Put(index, id string, source any) {
	data, err := json.Marshal(source)
	if err != nil {
		panic(fmt.Sprintf("elastictest: cannot encode source for %s: %v", id, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureIndex(index)[id] = data
}

// Doc returns the stored source of a document in a concrete index.
func (b *Backend) Doc(index, id string) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.indices[index][id]
	return doc, ok
}

// Count returns the number of documents in a concrete index.
func (b *Backend) Count(index string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.indices[index])
}

// MappingOf returns the last mapping created or pushed for name.
func (b *Backend) MappingOf(name string) (elastic.Mapping, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mappings[name]
	return m, ok
}

// FailOn makes every later call of op return err.
func (b *Backend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

// FailBulkID makes any bulk action on id fail with the given item outcome.
func (b *Backend) FailBulkID(id string, status int, errorType, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bulkFail[id] = bulkFailure{status: status, errorType: errorType, reason: reason}
}

// Calls returns the recorded calls of op, oldest first.
func (b *Backend) Calls(op string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var calls []Call
	for _, c := range b.calls {
		if c.Op == op {
			calls = append(calls, c)
		}
	}
	return calls
}

// CallCount returns how many times op was called.
func (b *Backend) CallCount(op string) int {
	return len(b.Calls(op))
}

// LastCall returns the most recent call of op.
func (b *Backend) LastCall(op string) (Call, bool) {
	calls := b.Calls(op)
	if len(calls) == 0 {
		return Call{}, false
	}
	return calls[len(calls)-1], true
}

// TotalCalls returns the number of recorded calls of any operation.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// ResetCalls forgets every recorded call.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *Backend) Ping(_ context.Context) error {
	return b.record(Call{Op: OpPing})
}

func (b *Backend) AliasExists(_ context.Context, name string) (bool, error) {
	if err := b.record(Call{Op: OpAliasExists, Target: name}); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.aliases[name]
	return ok, nil
}

func (b *Backend) IndexExists(_ context.Context, name string) (bool, error) {
	if err := b.record(Call{Op: OpIndexExists, Target: name}); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, isIndex := b.indices[name]
	_, isAlias := b.aliases[name]
	return isIndex || isAlias, nil
}

func (b *Backend) CreateIndex(_ context.Context, name string, mapping elastic.Mapping) error {
	if err := b.record(Call{Op: OpCreateIndex, Target: name, Mapping: mapping}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indices[name]; ok {
		return &elastic.ResponseError{Op: "create index", Status: http.StatusBadRequest, Type: "resource_already_exists_exception"}
	}
	b.ensureIndex(name)
	b.mappings[name] = mapping
	return nil
}

func (b *Backend) PutMapping(_ context.Context, name string, mapping elastic.Mapping) error {
	if err := b.record(Call{Op: OpPutMapping, Target: name, Mapping: mapping}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.resolve(name)) == 0 {
		return &elastic.ResponseError{Op: "put mapping", Status: http.StatusNotFound, Type: "index_not_found_exception"}
	}
	b.mappings[name] = mapping
	return nil
}

func (b *Backend) Get(_ context.Context, index, id string, sourceIncludes []string) (elastic.Hit, error) {
	if err := b.record(Call{Op: OpGet, Target: index, ID: id, SourceIncludes: sourceIncludes}); err != nil {
		return elastic.Hit{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.resolve(index)
	switch {
	case len(members) == 0:
		return elastic.Hit{}, &elastic.ResponseError{Op: "get", Status: http.StatusNotFound, Type: "index_not_found_exception"}
	case len(members) > 1:
		return elastic.Hit{}, &elastic.ResponseError{Op: "get", Status: http.StatusBadRequest, Type: "illegal_argument_exception",
			Reason: "alias has more than one index associated with it, can't execute a single index op"}
	}
	doc, ok := b.indices[members[0]][id]
	if !ok {
		return elastic.Hit{}, elastic.ErrNotFound
	}
	return elastic.Hit{Index: members[0], ID: id, Found: true, Source: project(doc, sourceIncludes)}, nil
}

func (b *Backend) Index(_ context.Context, index, id string, doc any, opts elastic.WriteOptions) error {
	if err := b.record(Call{Op: OpIndex, Target: index, ID: id, Options: opts}); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, isAlias := b.aliases[index]; opts.RequireAlias && !isAlias {
		return &elastic.ResponseError{Op: "index", Status: http.StatusNotFound, Type: "index_not_found_exception",
			Reason: fmt.Sprintf("[%s] is not an alias and [require_alias] request flag is [true]", index)}
	}
	target, err := b.writeIndex(index)
	if err != nil {
		return &elastic.ResponseError{Op: "index", Status: http.StatusBadRequest, Type: "illegal_argument_exception", Reason: err.Error()}
	}
	b.ensureIndex(target)[id] = data
	return nil
}

func (b *Backend) DeleteByQuery(_ context.Context, index string, query map[string]any) error {
	if err := b.record(Call{Op: OpDeleteByQuery, Target: index, Query: query}); err != nil {
		return err
	}
	if _, ok := query["match_all"]; !ok {
		return fmt.Errorf("elastictest: delete by query supports match_all only, got %v", query)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.resolve(index) {
		b.indices[m] = make(map[string]json.RawMessage)
	}
	return nil
}

func (b *Backend) MultiGet(_ context.Context, index string, ids []string, sourceIncludes []string) ([]elastic.Hit, error) {
	if err := b.record(Call{Op: OpMultiGet, Target: index, IDs: ids, SourceIncludes: sourceIncludes}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.resolve(index)
	if len(members) != 1 {
		return nil, &elastic.ResponseError{Op: "mget", Status: http.StatusBadRequest, Type: "illegal_argument_exception"}
	}
	hits := make([]elastic.Hit, len(ids))
	for i, id := range ids {
		hits[i] = elastic.Hit{Index: members[0], ID: id}
		if doc, ok := b.indices[members[0]][id]; ok {
			hits[i].Found = true
			hits[i].Source = project(doc, sourceIncludes)
		}
	}
	return hits, nil
}

func (b *Backend) Search(_ context.Context, index string, req elastic.SearchRequest) (elastic.SearchResult, error) {
	if err := b.record(Call{Op: OpSearch, Target: index, Search: req}); err != nil {
		return elastic.SearchResult{}, err
	}
	match, err := matcher(req.Query)
	if err != nil {
		return elastic.SearchResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var hits []elastic.Hit
	for _, m := range b.resolve(index) {
		ids := make([]string, 0, len(b.indices[m]))
		for id := range b.indices[m] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if match(id) {
				hits = append(hits, elastic.Hit{Index: m, ID: id, Found: true, Source: project(b.indices[m][id], req.SourceIncludes)})
			}
		}
	}
	if err := sortHits(hits, req.Sort); err != nil {
		return elastic.SearchResult{}, err
	}
	result := elastic.SearchResult{Total: len(hits)}
	size := req.Size
	if size == 0 {
		size = 10
	}
	if len(hits) > size {
		hits = hits[:size]
	}
	result.Hits = hits
	return result, nil
}

// sortHits supports the metadata fields _index and _id.
func sortHits(hits []elastic.Hit, fields []elastic.SortField) error {
	for _, f := range fields {
		if f.Field != "_index" && f.Field != "_id" {
			return fmt.Errorf("elastictest: sort supports _index and _id only, got %q", f.Field)
		}
	}
	slices.SortStableFunc(hits, func(a, b elastic.Hit) int {
		for _, f := range fields {
			x, y := a.Index, b.Index
			if f.Field == "_id" {
				x, y = a.ID, b.ID
			}
			c := strings.Compare(x, y)
			if f.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

func (b *Backend) Bulk(_ context.Context, index string, actions []elastic.BulkAction, opts elastic.WriteOptions) (elastic.BulkResult, error) {
	if err := b.record(Call{Op: OpBulk, Target: index, Actions: actions, Options: opts}); err != nil {
		return elastic.BulkResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	result := elastic.BulkResult{Items: make([]elastic.BulkItem, 0, len(actions))}
	for _, a := range actions {
		result.Items = append(result.Items, b.applyBulk(index, a, opts))
	}
	return result, nil
}

func (b *Backend) applyBulk(index string, a elastic.BulkAction, opts elastic.WriteOptions) elastic.BulkItem {
	item := elastic.BulkItem{Op: a.Op, ID: a.ID, Index: index}
	if f, ok := b.bulkFail[a.ID]; ok {
		item.Status, item.ErrorType, item.Reason = f.status, f.errorType, f.reason
		return item
	}
	if _, isAlias := b.aliases[index]; opts.RequireAlias && !isAlias {
		item.Status = http.StatusNotFound
		item.ErrorType = "index_not_found_exception"
		item.Reason = fmt.Sprintf("no such index [%s] and [require_alias] request flag is [true] and [%s] is not an alias", index, index)
		return item
	}
	target, err := b.writeIndex(index)
	if err != nil {
		item.Status = http.StatusBadRequest
		item.ErrorType = "illegal_argument_exception"
		item.Reason = err.Error()
		return item
	}
	item.Index = target
	docs := b.ensureIndex(target)
	switch a.Op {
	case elastic.OpIndex:
		data, err := json.Marshal(a.Source)
		if err != nil {
			item.Status = http.StatusBadRequest
			item.ErrorType = "mapper_parsing_exception"
			item.Reason = err.Error()
			return item
		}
		item.Status = http.StatusCreated
		if _, ok := docs[a.ID]; ok {
			item.Status = http.StatusOK
		}
		docs[a.ID] = data
	case elastic.OpDelete:
		item.Status = http.StatusOK
		if _, ok := docs[a.ID]; !ok {
			item.Status = http.StatusNotFound
		}
		delete(docs, a.ID)
	default:
		item.Status = http.StatusBadRequest
		item.ErrorType = "action_request_validation_exception"
		item.Reason = fmt.Sprintf("unknown action %q", a.Op)
	}
	return item
}

// record must be called without the lock held.
func (b *Backend) record(c Call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
	return b.failures[c.Op]
}

// resolve must be called with the lock held.
func (b *Backend) resolve(name string) []string {
	if a, ok := b.aliases[name]; ok {
		members := slices.Clone(a.members)
		sort.Strings(members)
		return members
	}
	if _, ok := b.indices[name]; ok {
		return []string{name}
	}
	return nil
}

// writeIndex must be called with the lock held.
func (b *Backend) writeIndex(name string) (string, error) {
	a, ok := b.aliases[name]
	if !ok {
		return name, nil
	}
	if a.writeIndex == "" {
		return "", fmt.Errorf("no write index is defined for alias [%s]", name)
	}
	return a.writeIndex, nil
}

// ensureIndex must be called with the lock held.
func (b *Backend) ensureIndex(name string) map[string]json.RawMessage {
	docs, ok := b.indices[name]
	if !ok {
		docs = make(map[string]json.RawMessage)
		b.indices[name] = docs
	}
	return docs
}

func matcher(query map[string]any) (func(id string) bool, error) {
	if _, ok := query["match_all"]; ok {
		return func(string) bool { return true }, nil
	}
	if term, ok := query["term"].(map[string]any); ok {
		want, ok := term["_id"].(string)
		if !ok {
			return nil, fmt.Errorf("elastictest: term query supports _id only, got %v", term)
		}
		return func(id string) bool { return id == want }, nil
	}
	if ids, ok := query["ids"].(map[string]any); ok {
		values := make(map[string]bool)
		switch v := ids["values"].(type) {
		case []string:
			for _, id := range v {
				values[id] = true
			}
		case []any:
			for _, id := range v {
				if s, ok := id.(string); ok {
					values[s] = true
				}
			}
		default:
			return nil, fmt.Errorf("elastictest: unsupported ids values %T", v)
		}
		return func(id string) bool { return values[id] }, nil
	}
	return nil, fmt.Errorf("elastictest: unsupported query %v", query)
}

func project(doc json.RawMessage, includes []string) json.RawMessage {
	if len(includes) == 0 {
		return doc
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return doc
	}
	projected := make(map[string]json.RawMessage, len(includes))
	for _, f := range includes {
		if v, ok := fields[f]; ok {
			projected[f] = v
		}
	}
	data, _ := json.Marshal(projected)
	return data
}
