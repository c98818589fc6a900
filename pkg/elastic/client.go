package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
)

// Config holds the connection settings for the Elasticsearch client.
type Config struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	APIKey    string   `yaml:"api_key"`
	CloudID   string   `yaml:"cloud_id"`
}

// NewClient creates an Elasticsearch client. It does not contact the cluster;
// reachability is checked when a cache is provisioned.
func NewClient(cfg Config, logger zerolog.Logger) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		CloudID:   cfg.CloudID,
	})
	if err != nil {
		logger.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("Failed to create Elasticsearch client.")
		return nil, fmt.Errorf("elasticsearch.NewClient: %w", err)
	}
	if cfg.CloudID != "" {
		logger.Info().Msg("Elasticsearch client created for cloud deployment.")
	} else {
		logger.Info().Strs("addresses", cfg.Addresses).Msg("Elasticsearch client created.")
	}
	return client, nil
}

// esBackend wraps an *elasticsearch.Client to satisfy the Backend interface.
type esBackend struct {
	client *elasticsearch.Client
}

// NewBackend creates an adapter that makes the concrete client conform to the
// Backend interface.
func NewBackend(client *elasticsearch.Client) Backend {
	if client == nil {
		return nil
	}
	return &esBackend{client: client}
}

func (b *esBackend) Ping(ctx context.Context) error {
	res, err := b.client.Ping(b.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

func (b *esBackend) AliasExists(ctx context.Context, name string) (bool, error) {
	res, err := b.client.Indices.ExistsAlias([]string{name}, b.client.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("exists_alias %s: %w", name, err)
	}
	return existsResult("exists_alias", res)
}

func (b *esBackend) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := b.client.Indices.Exists([]string{name}, b.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", name, err)
	}
	return existsResult("exists", res)
}

func (b *esBackend) CreateIndex(ctx context.Context, name string, mapping Mapping) error {
	body, err := encode(mapping.CreateBody())
	if err != nil {
		return err
	}
	res, err := b.client.Indices.Create(name,
		b.client.Indices.Create.WithContext(ctx),
		b.client.Indices.Create.WithBody(body),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("create index", res)
	}
	return nil
}

func (b *esBackend) PutMapping(ctx context.Context, name string, mapping Mapping) error {
	body, err := encode(mapping.PutBody())
	if err != nil {
		return err
	}
	res, err := b.client.Indices.PutMapping([]string{name}, body, b.client.Indices.PutMapping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("put mapping %s: %w", name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("put mapping", res)
	}
	return nil
}

func (b *esBackend) Get(ctx context.Context, index, id string, sourceIncludes []string) (Hit, error) {
	res, err := b.client.Get(index, id,
		b.client.Get.WithContext(ctx),
		b.client.Get.WithSourceIncludes(sourceIncludes...),
	)
	if err != nil {
		return Hit{}, fmt.Errorf("get %s/%s: %w", index, id, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return Hit{}, responseError("get", res)
	}
	var hit Hit
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return Hit{}, fmt.Errorf("decode get response: %w", err)
	}
	if !hit.Found {
		return Hit{}, ErrNotFound
	}
	return hit, nil
}

func (b *esBackend) Index(ctx context.Context, index, id string, doc any, opts WriteOptions) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := b.client.Index(index, body,
		b.client.Index.WithContext(ctx),
		b.client.Index.WithDocumentID(id),
		b.client.Index.WithRefresh(opts.refresh()),
		b.client.Index.WithRequireAlias(opts.RequireAlias),
	)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("index", res)
	}
	return nil
}

func (b *esBackend) DeleteByQuery(ctx context.Context, index string, query map[string]any) error {
	body, err := encode(map[string]any{"query": query})
	if err != nil {
		return err
	}
	res, err := b.client.DeleteByQuery([]string{index}, body,
		b.client.DeleteByQuery.WithContext(ctx),
		b.client.DeleteByQuery.WithRefresh(true),
		b.client.DeleteByQuery.WithWaitForCompletion(true),
	)
	if err != nil {
		return fmt.Errorf("delete by query %s: %w", index, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("delete by query", res)
	}
	return nil
}

func (b *esBackend) MultiGet(ctx context.Context, index string, ids []string, sourceIncludes []string) ([]Hit, error) {
	body, err := encode(map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	res, err := b.client.Mget(body,
		b.client.Mget.WithContext(ctx),
		b.client.Mget.WithIndex(index),
		b.client.Mget.WithSourceIncludes(sourceIncludes...),
	)
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", index, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, responseError("mget", res)
	}
	var payload struct {
		Docs []Hit `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}
	return payload.Docs, nil
}

func (b *esBackend) Search(ctx context.Context, index string, req SearchRequest) (SearchResult, error) {
	body, err := encode(req.Body())
	if err != nil {
		return SearchResult{}, err
	}
	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(index),
		b.client.Search.WithBody(body),
		b.client.Search.WithSourceIncludes(req.SourceIncludes...),
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %s: %w", index, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return SearchResult{}, responseError("search", res)
	}
	var payload struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return SearchResult{}, fmt.Errorf("decode search response: %w", err)
	}
	for i := range payload.Hits.Hits {
		payload.Hits.Hits[i].Found = true
	}
	return SearchResult{Total: payload.Hits.Total.Value, Hits: payload.Hits.Hits}, nil
}

func (b *esBackend) Bulk(ctx context.Context, index string, actions []BulkAction, opts WriteOptions) (BulkResult, error) {
	// The bulk endpoint rejects an empty body.
	if len(actions) == 0 {
		return BulkResult{}, nil
	}
	body, err := encodeBulk(actions)
	if err != nil {
		return BulkResult{}, err
	}
	res, err := b.client.Bulk(body,
		b.client.Bulk.WithContext(ctx),
		b.client.Bulk.WithIndex(index),
		b.client.Bulk.WithRefresh(opts.refresh()),
		b.client.Bulk.WithRequireAlias(opts.RequireAlias),
	)
	if err != nil {
		return BulkResult{}, fmt.Errorf("bulk %s: %w", index, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return BulkResult{}, responseError("bulk", res)
	}
	return decodeBulk(res.Body)
}

// encodeBulk renders the actions as the newline-delimited bulk body.
func encodeBulk(actions []BulkAction) (io.Reader, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		meta := map[string]any{string(a.Op): map[string]string{"_id": a.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encode bulk action %s: %w", a.ID, err)
		}
		if a.Op == OpDelete {
			continue
		}
		if err := enc.Encode(a.Source); err != nil {
			return nil, fmt.Errorf("encode bulk source %s: %w", a.ID, err)
		}
	}
	return &buf, nil
}

func decodeBulk(r io.Reader) (BulkResult, error) {
	var payload struct {
		Items []map[string]struct {
			Index  string `json:"_index"`
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return BulkResult{}, fmt.Errorf("decode bulk response: %w", err)
	}
	result := BulkResult{Items: make([]BulkItem, 0, len(payload.Items))}
	for _, entry := range payload.Items {
		for op, body := range entry {
			item := BulkItem{Op: Op(op), Index: body.Index, ID: body.ID, Status: body.Status}
			if body.Error != nil {
				item.ErrorType = body.Error.Type
				item.Reason = body.Error.Reason
			}
			result.Items = append(result.Items, item)
		}
	}
	return result, nil
}

func existsResult(op string, res *esapi.Response) (bool, error) {
	defer closeBody(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError(op, res)
	}
}

// responseError decodes the backend's error envelope, if there is one.
func responseError(op string, res *esapi.Response) error {
	rerr := &ResponseError{Op: op, Status: res.StatusCode}
	if res.Body == nil {
		return rerr
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil && !errors.Is(err, io.EOF) {
		return rerr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(envelope.Error, &detail) == nil {
		rerr.Type = detail.Type
		rerr.Reason = detail.Reason
	}
	return rerr
}

func (o WriteOptions) refresh() string {
	if o.Refresh {
		return "true"
	}
	return "false"
}

func encode(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}
