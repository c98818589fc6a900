// Package llmcache caches LLM generations in Elasticsearch, keyed by a
// fingerprint of the prompt and the model parameters.
package llmcache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/illmade-knight/go-llmescache/pkg/cache"
	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/illmade-knight/go-llmescache/pkg/fingerprint"
	"github.com/illmade-knight/go-llmescache/pkg/metrics"
	"github.com/rs/zerolog"
)

// Field names of a cached record.
const (
	fieldOutput    = "llm_output"
	fieldParams    = "llm_params"
	fieldInput     = "llm_input"
	fieldMetadata  = "metadata"
	fieldTimestamp = "timestamp"
)

// timestampLayout is RFC 3339 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds the settings of a Cache. None of them can change after New.
type Config struct {
	// Index is the name of the index or alias that holds the records.
	Index string `yaml:"index"`
	// StoreInput keeps the prompt next to the output.
	StoreInput bool `yaml:"store_input"`
	// StoreTimestamp records when the output was cached.
	StoreTimestamp bool `yaml:"store_timestamp"`
	// StoreInputParams keeps the serialized model parameters.
	StoreInputParams bool `yaml:"store_input_params"`
	// Metadata is attached to every record when non-nil, for filtering.
	Metadata map[string]any `yaml:"metadata"`
}

// DefaultConfig stores everything available for the given index.
func DefaultConfig(index string) Config {
	return Config{
		Index:            index,
		StoreInput:       true,
		StoreTimestamp:   true,
		StoreInputParams: true,
	}
}

// Document is the stored form of one cached LLM call.
type Document struct {
	Output    []string       `json:"llm_output"`
	Params    *string        `json:"llm_params,omitempty"`
	Input     *string        `json:"llm_input,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Cache is an LLM cache backed by an Elasticsearch index or alias.
//
// The index/alias classification is made once, in New. Against an index a
// lookup is a single get by id. Against an alias, which may front several
// rolled-over indices, a lookup searches all of them and keeps the copy from
// the index whose name sorts last.
type Cache struct {
	backend elastic.Backend
	target  elastic.Target
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// New provisions the configured index or alias and returns a ready Cache.
// An unreachable cluster or a failed provisioning call aborts construction.
func New(ctx context.Context, backend elastic.Backend, cfg Config, logger zerolog.Logger) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("elastic backend cannot be nil")
	}
	if cfg.Index == "" {
		return nil, errors.New("llm cache index cannot be empty")
	}

	c := &Cache{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("component", "LLMCache").Str("index", cfg.Index).Logger(),
	}
	target, err := elastic.Provision(ctx, backend, cfg.Index, c, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up llm cache: %w", err)
	}
	c.target = target
	c.logger.Info().Bool("is_alias", target.IsAlias).Msg("LLM cache ready.")
	return c, nil
}

// Mapping declares the record fields. Payload fields are stored, not indexed.
func (c *Cache) Mapping() elastic.Mapping {
	return elastic.Mapping{Properties: map[string]elastic.Property{
		fieldOutput:    elastic.StoredText(),
		fieldParams:    elastic.StoredText(),
		fieldInput:     elastic.StoredText(),
		fieldMetadata:  elastic.Object(),
		fieldTimestamp: elastic.Date(),
	}}
}

// IsAlias reports how the target was classified at construction.
func (c *Cache) IsAlias() bool {
	return c.target.IsAlias
}

// Key is the document id for a prompt and its serialized parameters.
func (c *Cache) Key(prompt, llmString string) string {
	return fingerprint.Concat(prompt, llmString)
}

// Lookup returns the cached generations for prompt and llmString. A miss
// returns false and no error.
func (c *Cache) Lookup(ctx context.Context, prompt, llmString string) ([]Generation, bool, error) {
	gens, found, err := c.get(ctx, c.Key(prompt, llmString))
	metrics.Lookup(metrics.ComponentRecord, found, err)
	return gens, found, err
}

func (c *Cache) get(ctx context.Context, key string) ([]Generation, bool, error) {
	hit, found, err := c.fetchRecord(ctx, key)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to read cached record.")
		return nil, false, err
	}
	if !found {
		c.logger.Debug().Str("key", key).Msg("Cache miss.")
		return nil, false, nil
	}

	gens, err := decodeOutput(hit.Source)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Str("source_index", hit.Index).Msg("Cached record cannot be decoded.")
		return nil, false, err
	}
	c.logger.Debug().Str("key", key).Str("source_index", hit.Index).Int("generations", len(gens)).Msg("Cache hit.")
	return gens, true, nil
}

// fetchRecord loads the output field of the record with the given id.
func (c *Cache) fetchRecord(ctx context.Context, key string) (elastic.Hit, bool, error) {
	includes := []string{fieldOutput}
	if !c.target.IsAlias {
		hit, err := c.backend.Get(ctx, c.target.Name, key, includes)
		if errors.Is(err, elastic.ErrNotFound) {
			return elastic.Hit{}, false, nil
		}
		if err != nil {
			return elastic.Hit{}, false, fmt.Errorf("failed to get record %s: %w", key, err)
		}
		return hit, true, nil
	}

	result, err := c.backend.Search(ctx, c.target.Name, elastic.SearchRequest{
		Query:          map[string]any{"term": map[string]any{"_id": key}},
		Size:           1,
		Sort:           []elastic.SortField{elastic.NewestIndexFirst},
		SourceIncludes: includes,
	})
	if err != nil {
		return elastic.Hit{}, false, fmt.Errorf("failed to search record %s: %w", key, err)
	}
	if result.Total == 0 || len(result.Hits) == 0 {
		return elastic.Hit{}, false, nil
	}
	// The backend already sorts newest first; a backend that ignores the sort
	// still yields the greatest index here.
	latest := slices.MaxFunc(result.Hits, func(a, b elastic.Hit) int {
		return cmp.Compare(a.Index, b.Index)
	})
	if result.Total > 1 {
		c.logger.Debug().Str("key", key).Int("copies", result.Total).Str("chosen_index", latest.Index).Msg("Record found in several indices behind the alias.")
	}
	return latest, true, nil
}

// BuildDocument assembles the record for an LLM call. The output is always
// present; the other fields follow the Config.
func (c *Cache) BuildDocument(prompt, llmString string, gens []Generation) (Document, error) {
	output, err := encodeGenerations(gens)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Output: output}
	if c.cfg.StoreInputParams {
		doc.Params = &llmString
	}
	if c.cfg.Metadata != nil {
		doc.Metadata = c.cfg.Metadata
	}
	if c.cfg.StoreInput {
		doc.Input = &prompt
	}
	if c.cfg.StoreTimestamp {
		doc.Timestamp = c.now().UTC().Format(timestampLayout)
	}
	return doc, nil
}

// Update stores gens for prompt and llmString, replacing any previous record
// with the same key. Through an alias the write lands in its write index.
func (c *Cache) Update(ctx context.Context, prompt, llmString string, gens []Generation) error {
	key := c.Key(prompt, llmString)
	doc, err := c.BuildDocument(prompt, llmString, gens)
	if err != nil {
		return err
	}
	opts := elastic.WriteOptions{Refresh: true, RequireAlias: c.target.IsAlias}
	if err := c.backend.Index(ctx, c.target.Name, key, doc, opts); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to write cached record.")
		return fmt.Errorf("failed to index record %s: %w", key, err)
	}
	metrics.Write(metrics.ComponentRecord, "update")
	c.logger.Debug().Str("key", key).Int("generations", len(gens)).Msg("Cached record written.")
	return nil
}

// Clear deletes every record in the target and returns once the deletion is
// visible to lookups.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.DeleteByQuery(ctx, c.target.Name, map[string]any{"match_all": map[string]any{}}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear the cache.")
		return fmt.Errorf("failed to clear %s: %w", c.target.Name, err)
	}
	metrics.Write(metrics.ComponentRecord, "clear")
	c.logger.Info().Msg("Cache cleared.")
	return nil
}

// Fetcher exposes the cache as a fallback for a hot tier. Keys are record
// ids as returned by Key; a miss is cache.ErrMiss.
func (c *Cache) Fetcher() cache.Fetcher[string, []Generation] {
	return recordFetcher{c: c}
}

type recordFetcher struct {
	c *Cache
}

func (f recordFetcher) Fetch(ctx context.Context, key string) ([]Generation, error) {
	gens, found, err := f.c.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("record %s: %w", key, cache.ErrMiss)
	}
	return gens, nil
}

// Close is a no-op; the backend belongs to the caller.
func (recordFetcher) Close() error {
	return nil
}
