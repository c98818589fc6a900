// Package embedstore is a batched key-value store for embedding vectors,
// persisted in Elasticsearch.
package embedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/illmade-knight/go-llmescache/pkg/fingerprint"
	"github.com/illmade-knight/go-llmescache/pkg/metrics"
	"github.com/rs/zerolog"
)

// ErrKeysUnsupported is returned by YieldKeys. Keys are stored hashed, so
// there is nothing meaningful to enumerate by prefix.
var ErrKeysUnsupported = fmt.Errorf("embedstore: key enumeration is not supported: %w", errors.ErrUnsupported)

const (
	fieldVector    = "vector_dump"
	fieldInput     = "llm_input"
	fieldMetadata  = "metadata"
	fieldTimestamp = "timestamp"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Config holds the settings of a Store. None of them can change after New.
type Config struct {
	// Index is the name of the index or alias that holds the vectors.
	Index string `yaml:"index"`
	// Namespace is mixed into every key, so several models can share an index.
	Namespace string `yaml:"namespace"`
	// StoreInput keeps the embedded text next to the vector.
	StoreInput bool `yaml:"store_input"`
	// StoreTimestamp records when the vector was stored.
	StoreTimestamp bool `yaml:"store_timestamp"`
	// Metadata is attached to every document when non-nil.
	Metadata map[string]any `yaml:"metadata"`
	// LegacyKeys derives ids by plain concatenation of namespace and key,
	// matching data written by earlier versions. Distinct (namespace, key)
	// pairs can then collide, e.g. ("ab", "c") and ("a", "bc").
	LegacyKeys bool `yaml:"legacy_keys"`
}

// DefaultConfig stores everything available for the given index.
func DefaultConfig(index string) Config {
	return Config{
		Index:          index,
		StoreInput:     true,
		StoreTimestamp: true,
	}
}

// Pair is one key and its vector.
type Pair struct {
	Key    string
	Vector []float32
}

// Document is the stored form of a vector.
type Document struct {
	Vector    []float32      `json:"vector_dump"`
	Input     *string        `json:"llm_input,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Store maps text keys to vectors.
//
// Every call is a single backend request. Writes are bulk requests that are
// refreshed before they return, and are not transactional: when one fails,
// any subset of its actions may have been applied. Retrying is safe since
// every action is a keyed upsert or delete.
type Store struct {
	backend elastic.Backend
	target  elastic.Target
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

// New provisions the configured index or alias and returns a ready Store.
func New(ctx context.Context, backend elastic.Backend, cfg Config, logger zerolog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("elastic backend cannot be nil")
	}
	if cfg.Index == "" {
		return nil, errors.New("embedding store index cannot be empty")
	}
	s := &Store{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("component", "EmbeddingStore").Str("index", cfg.Index).Logger(),
	}
	target, err := elastic.Provision(ctx, backend, cfg.Index, s, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up embedding store: %w", err)
	}
	s.target = target
	s.logger.Info().Bool("is_alias", target.IsAlias).Str("namespace", cfg.Namespace).Msg("Embedding store ready.")
	return s, nil
}

// Mapping declares the document fields. The vector is kept in _source only.
func (s *Store) Mapping() elastic.Mapping {
	return elastic.Mapping{Properties: map[string]elastic.Property{
		fieldVector:    elastic.StoredFloats(),
		fieldInput:     elastic.StoredText(),
		fieldMetadata:  elastic.Object(),
		fieldTimestamp: elastic.Date(),
	}}
}

// IsAlias reports how the target was classified at construction.
func (s *Store) IsAlias() bool {
	return s.target.IsAlias
}

// Key is the document id for key in the configured namespace.
func (s *Store) Key(key string) string {
	if s.cfg.LegacyKeys {
		return fingerprint.Concat(s.cfg.Namespace, key)
	}
	return fingerprint.Framed(s.cfg.Namespace, key)
}

// BuildDocument assembles the stored form of a vector.
func (s *Store) BuildDocument(key string, vector []float32) Document {
	doc := Document{Vector: vector}
	if s.cfg.StoreInput {
		doc.Input = &key
	}
	if s.cfg.Metadata != nil {
		doc.Metadata = s.cfg.Metadata
	}
	if s.cfg.StoreTimestamp {
		doc.Timestamp = s.now().UTC().Format(timestampLayout)
	}
	return doc
}

// MGet returns one entry per key, in the same order. Keys with no stored
// vector get a nil entry.
func (s *Store) MGet(ctx context.Context, keys []string) ([][]float32, error) {
	if len(keys) == 0 {
		return [][]float32{}, nil
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = s.Key(k)
	}

	var vectors [][]float32
	var err error
	if s.target.IsAlias {
		vectors, err = s.searchVectors(ctx, ids)
	} else {
		vectors, err = s.multiGetVectors(ctx, ids)
	}
	if err != nil {
		metrics.Lookup(metrics.ComponentVector, false, err)
		s.logger.Error().Err(err).Int("keys", len(keys)).Msg("Failed to read vectors.")
		return nil, err
	}

	found := 0
	for _, v := range vectors {
		if v != nil {
			found++
			metrics.Lookup(metrics.ComponentVector, true, nil)
		} else {
			metrics.Lookup(metrics.ComponentVector, false, nil)
		}
	}
	s.logger.Debug().Int("keys", len(keys)).Int("found", found).Msg("Vectors read.")
	return vectors, nil
}

func (s *Store) multiGetVectors(ctx context.Context, ids []string) ([][]float32, error) {
	hits, err := s.backend.MultiGet(ctx, s.target.Name, ids, []string{fieldVector})
	if err != nil {
		return nil, fmt.Errorf("failed to mget vectors: %w", err)
	}
	if len(hits) != len(ids) {
		return nil, fmt.Errorf("mget returned %d documents for %d ids", len(hits), len(ids))
	}
	vectors := make([][]float32, len(ids))
	for i, hit := range hits {
		if !hit.Found {
			continue
		}
		if vectors[i], err = decodeVector(hit); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// searchVectors reads through an alias. mget cannot span the indices behind
// it, so the ids are searched for and the hits re-projected onto key order.
//
// The page holds len(ids) hits, newest index first. A key stored in several
// indices uses one slot per copy, so when some keys are duplicated a key that
// exists only in an older index can fall off the page and read as missing.
func (s *Store) searchVectors(ctx context.Context, ids []string) ([][]float32, error) {
	result, err := s.backend.Search(ctx, s.target.Name, elastic.SearchRequest{
		Query:          map[string]any{"ids": map[string]any{"values": ids}},
		Size:           len(ids),
		Sort:           []elastic.SortField{elastic.NewestIndexFirst},
		SourceIncludes: []string{fieldVector},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	byID := make(map[string]elastic.Hit, len(result.Hits))
	for _, hit := range result.Hits {
		// Same rule as record lookups: the latest index wins.
		if prev, ok := byID[hit.ID]; ok && prev.Index > hit.Index {
			continue
		}
		byID[hit.ID] = hit
	}
	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		hit, ok := byID[id]
		if !ok {
			continue
		}
		if vectors[i], err = decodeVector(hit); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func decodeVector(hit elastic.Hit) ([]float32, error) {
	var doc struct {
		Vector []float32 `json:"vector_dump"`
	}
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode vector %s from %s: %w", hit.ID, hit.Index, err)
	}
	if doc.Vector == nil {
		return nil, fmt.Errorf("document %s in %s has no %s", hit.ID, hit.Index, fieldVector)
	}
	return doc.Vector, nil
}

// MSet stores every pair in one bulk request. An empty slice still makes the
// request, which then does nothing.
func (s *Store) MSet(ctx context.Context, pairs []Pair) error {
	actions := make([]elastic.BulkAction, len(pairs))
	for i, p := range pairs {
		actions[i] = elastic.BulkAction{Op: elastic.OpIndex, ID: s.Key(p.Key), Source: s.BuildDocument(p.Key, p.Vector)}
	}
	return s.bulk(ctx, "mset", elastic.OpIndex, actions)
}

// MDelete removes every key in one bulk request. Deleting a key that is not
// stored is not an error. An empty slice still makes the request.
func (s *Store) MDelete(ctx context.Context, keys []string) error {
	actions := make([]elastic.BulkAction, len(keys))
	for i, k := range keys {
		actions[i] = elastic.BulkAction{Op: elastic.OpDelete, ID: s.Key(k)}
	}
	return s.bulk(ctx, "mdelete", elastic.OpDelete, actions)
}

func (s *Store) bulk(ctx context.Context, name string, op elastic.Op, actions []elastic.BulkAction) error {
	opts := elastic.WriteOptions{Refresh: true, RequireAlias: s.target.IsAlias}
	result, err := s.backend.Bulk(ctx, s.target.Name, actions, opts)
	if err != nil {
		s.logger.Error().Err(err).Str("op", name).Int("actions", len(actions)).Msg("Bulk request failed.")
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if bulkErr := elastic.NewBulkError(op, result); bulkErr != nil {
		first := bulkErr.First()
		metrics.BulkFailure(name)
		s.logger.Error().
			Str("op", name).
			Int("failed", len(bulkErr.Failed)).
			Int("actions", len(actions)).
			Str("id", first.ID).
			Int("status", first.Status).
			Str("error_type", first.ErrorType).
			Msgf("Bulk action failed: %s", first.Reason)
		return bulkErr
	}
	metrics.Write(metrics.ComponentVector, name)
	s.logger.Debug().Str("op", name).Int("actions", len(actions)).Msg("Bulk request applied.")
	return nil
}

// YieldKeys always fails with ErrKeysUnsupported. It never returns a
// sequence, so "unsupported" cannot be mistaken for "no keys".
func (s *Store) YieldKeys(_ context.Context, _ string) (iter.Seq[string], error) {
	return nil, ErrKeysUnsupported
}
