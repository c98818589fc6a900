package llmcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-llmescache/pkg/cache"
	"github.com/illmade-knight/go-llmescache/pkg/metrics"
	"github.com/rs/zerolog"
)

// LLMCache is the contract a model-calling framework uses: look up before a
// call, update after it.
type LLMCache interface {
	Lookup(ctx context.Context, prompt, llmString string) ([]Generation, bool, error)
	Update(ctx context.Context, prompt, llmString string, gens []Generation) error
	Clear(ctx context.Context) error
}

var (
	_ LLMCache = (*Cache)(nil)
	_ LLMCache = (*Layered)(nil)
)

// Layered puts a hot tier (in-memory LRU or Redis) in front of a Cache. The
// front tier must be built with back.Fetcher() as its fallback, so misses fall
// through to Elasticsearch and are written back on the way out.
type Layered struct {
	front  cache.Cache[string, []Generation]
	back   *Cache
	logger zerolog.Logger
}

// NewLayered chains front over back.
func NewLayered(front cache.Cache[string, []Generation], back *Cache, logger zerolog.Logger) (*Layered, error) {
	if front == nil || back == nil {
		return nil, errors.New("layered cache needs both a front tier and a backing cache")
	}
	return &Layered{
		front:  front,
		back:   back,
		logger: logger.With().Str("component", "LayeredLLMCache").Logger(),
	}, nil
}

// Lookup reads through the front tier.
func (l *Layered) Lookup(ctx context.Context, prompt, llmString string) ([]Generation, bool, error) {
	key := l.back.Key(prompt, llmString)
	gens, err := l.front.Fetch(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		metrics.Lookup(metrics.ComponentLayered, false, nil)
		return nil, false, nil
	}
	if err != nil {
		metrics.Lookup(metrics.ComponentLayered, false, err)
		return nil, false, err
	}
	metrics.Lookup(metrics.ComponentLayered, true, nil)
	return gens, true, nil
}

// Update writes to Elasticsearch first, then to the front tier.
func (l *Layered) Update(ctx context.Context, prompt, llmString string, gens []Generation) error {
	if err := l.back.Update(ctx, prompt, llmString, gens); err != nil {
		return err
	}
	key := l.back.Key(prompt, llmString)
	if err := l.front.Write(ctx, key, gens); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("Record stored but the hot tier could not be updated.")
		return fmt.Errorf("failed to update hot tier for %s: %w", key, err)
	}
	return nil
}

// Clear empties Elasticsearch, then purges the front tier.
func (l *Layered) Clear(ctx context.Context) error {
	if err := l.back.Clear(ctx); err != nil {
		return err
	}
	if err := l.front.Purge(ctx); err != nil {
		l.logger.Error().Err(err).Msg("Records cleared but the hot tier could not be purged.")
		return fmt.Errorf("failed to purge hot tier: %w", err)
	}
	return nil
}

// Close releases the front tier. The backing cache has nothing to release.
func (l *Layered) Close() error {
	return l.front.Close()
}
