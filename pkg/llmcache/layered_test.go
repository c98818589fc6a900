package llmcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-llmescache/pkg/cache"
	"github.com/illmade-knight/go-llmescache/pkg/elastic/elastictest"
	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingFront is a hot tier whose writes and purges fail.
type failingFront struct {
	cache.Cache[string, []llmcache.Generation]
	err error
}

func (f failingFront) Write(context.Context, string, []llmcache.Generation) error { return f.err }
func (f failingFront) Purge(context.Context) error                              { return f.err }

func newLayered(t *testing.T) (*llmcache.Layered, *cache.InMemoryLRUCache[string, []llmcache.Generation], *elastictest.Backend) {
	t.Helper()
	backend := elastictest.New()
	back := newTestCache(t, backend, llmcache.DefaultConfig(testIndex))
	front, err := cache.NewInMemoryLRUCache[string, []llmcache.Generation](16, back.Fetcher())
	require.NoError(t, err)
	layered, err := llmcache.NewLayered(front, back, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = layered.Close() })
	return layered, front, backend
}

func TestLayered(t *testing.T) {
	ctx := context.Background()
	gens := []llmcache.Generation{{Text: "hello"}}

	t.Run("Miss in both tiers", func(t *testing.T) {
		// Arrange
		layered, front, _ := newLayered(t)

		// Act
		got, found, err := layered.Lookup(ctx, testPrompt, testParams)

		// Assert
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
		assert.Equal(t, 0, front.Len())
	})

	t.Run("Update fills both tiers and lookups stay in memory", func(t *testing.T) {
		// Arrange
		layered, front, backend := newLayered(t)

		// Act
		require.NoError(t, layered.Update(ctx, testPrompt, testParams, gens))
		backend.ResetCalls()
		got, found, err := layered.Lookup(ctx, testPrompt, testParams)

		// Assert
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, gens, got)
		assert.Equal(t, 1, front.Len())
		assert.Equal(t, 0, backend.CallCount(elastictest.OpGet), "hot tier answers without a backend read")
	})

	t.Run("Records written elsewhere are read through and kept", func(t *testing.T) {
		// Arrange
		layered, front, backend := newLayered(t)
		writer := newTestCache(t, backend, llmcache.DefaultConfig(testIndex))
		require.NoError(t, writer.Update(ctx, testPrompt, testParams, gens))

		// Act
		got, found, err := layered.Lookup(ctx, testPrompt, testParams)

		// Assert
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, gens, got)
		assert.Equal(t, 1, front.Len())
	})

	t.Run("Clear empties both tiers", func(t *testing.T) {
		// Arrange
		layered, front, backend := newLayered(t)
		require.NoError(t, layered.Update(ctx, testPrompt, testParams, gens))

		// Act
		require.NoError(t, layered.Clear(ctx))
		_, found, err := layered.Lookup(ctx, testPrompt, testParams)

		// Assert
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, 0, front.Len())
		assert.Equal(t, 0, backend.Count(testIndex))
	})

	t.Run("Backend errors surface through the front tier", func(t *testing.T) {
		// Arrange
		layered, _, backend := newLayered(t)
		boom := errors.New("node unavailable")
		backend.FailOn(elastictest.OpGet, boom)

		// Act
		_, found, err := layered.Lookup(ctx, testPrompt, testParams)

		// Assert
		assert.False(t, found)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Hot tier failures are reported after the backend write", func(t *testing.T) {
		// Arrange
		backend := elastictest.New()
		back := newTestCache(t, backend, llmcache.DefaultConfig(testIndex))
		boom := errors.New("redis down")
		layered, err := llmcache.NewLayered(failingFront{err: boom}, back, zerolog.Nop())
		require.NoError(t, err)

		// Act
		updateErr := layered.Update(ctx, testPrompt, testParams, gens)
		clearErr := layered.Clear(ctx)

		// Assert
		assert.ErrorIs(t, updateErr, boom)
		assert.ErrorIs(t, clearErr, boom)
		assert.Equal(t, 1, backend.CallCount(elastictest.OpIndex))
		assert.Equal(t, 1, backend.CallCount(elastictest.OpDeleteByQuery))
	})

	t.Run("Requires both tiers", func(t *testing.T) {
		_, err := llmcache.NewLayered(nil, nil, zerolog.Nop())
		assert.Error(t, err)
	})
}
