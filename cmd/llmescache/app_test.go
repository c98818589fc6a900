package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/illmade-knight/go-llmescache/pkg/config"
	"github.com/illmade-knight/go-llmescache/pkg/elastic/elastictest"
	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults and environment without a file", func(t *testing.T) {
		t.Setenv("LLMCACHE_INDEX", "env-index")

		cfg, err := loadConfig("")

		require.NoError(t, err)
		assert.Equal(t, "env-index", cfg.LLMCache.Index)
	})

	t.Run("Environment wins over the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "llmescache.yaml")
		require.NoError(t, os.WriteFile(path, []byte("llm_cache:\n  index: file-index\n"), 0o644))
		t.Setenv("LLMCACHE_INDEX", "env-index")

		cfg, err := loadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, "env-index", cfg.LLMCache.Index)
	})

	t.Run("Invalid settings are rejected", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "shouting")

		_, err := loadConfig("")

		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	_, err = newLogger(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = newLogger(&buf, "console", "nope")
	assert.Error(t, err)
}

func TestApp_LLMCache(t *testing.T) {
	ctx := context.Background()

	newTestApp := func(hot config.HotTierConfig) (*app, *elastictest.Backend) {
		backend := elastictest.New()
		cfg := config.Default()
		cfg.HotTier = hot
		return &app{cfg: cfg, logger: zerolog.Nop(), backend: backend}, backend
	}

	t.Run("No hot tier returns the record cache", func(t *testing.T) {
		a, _ := newTestApp(config.HotTierConfig{Backend: config.HotTierNone})

		c, closeFn, err := a.llmCache(ctx)

		require.NoError(t, err)
		assert.IsType(t, &llmcache.Cache{}, c)
		assert.NoError(t, closeFn())
	})

	t.Run("Memory hot tier serves repeat lookups", func(t *testing.T) {
		a, backend := newTestApp(config.HotTierConfig{Backend: config.HotTierMemory, Size: 8})
		c, closeFn, err := a.llmCache(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeFn() })
		require.IsType(t, &llmcache.Layered{}, c)

		gens := []llmcache.Generation{{Text: "cached"}}
		require.NoError(t, c.Update(ctx, "prompt", "model", gens))
		backend.ResetCalls()

		got, hit, err := c.Lookup(ctx, "prompt", "model")

		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, gens, got)
		assert.Zero(t, backend.TotalCalls(), "hot tier answers without touching Elasticsearch")
	})

	t.Run("Unknown hot tier", func(t *testing.T) {
		a, _ := newTestApp(config.HotTierConfig{Backend: "memcached"})

		_, _, err := a.llmCache(ctx)

		assert.Error(t, err)
	})
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"provision", "lookup", "update", "clear", "vectors", "serve"})

	vectors, _, err := root.Find([]string{"vectors", "get"})
	require.NoError(t, err)
	assert.Equal(t, "get", vectors.Name())

	root.SetArgs([]string{"vectors", "delete"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute(), "delete needs at least one key")
}
