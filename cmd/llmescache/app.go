package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illmade-knight/go-llmescache/pkg/cache"
	"github.com/illmade-knight/go-llmescache/pkg/config"
	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/illmade-knight/go-llmescache/pkg/embedstore"
	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/illmade-knight/go-llmescache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type globalOptions struct {
	configPath string
	logFormat  string
}

// app holds what every command needs: settings, a logger and a backend.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	backend elastic.Backend
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, format, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func newApp(opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, opts.logFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	client, err := elastic.NewClient(cfg.Elasticsearch, logger)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		backend: elastic.Instrument(elastic.NewBackend(client)),
	}, nil
}

// llmCache builds the record cache and, when configured, the hot tier in
// front of it. The returned close func releases the hot tier.
func (a *app) llmCache(ctx context.Context) (llmcache.LLMCache, func() error, error) {
	back, err := llmcache.New(ctx, a.backend, a.cfg.LLMCache, a.logger)
	if err != nil {
		return nil, nil, err
	}
	front, err := newHotTier(ctx, a.cfg.HotTier, back, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if front == nil {
		return back, func() error { return nil }, nil
	}
	layered, err := llmcache.NewLayered(front, back, a.logger)
	if err != nil {
		_ = front.Close()
		return nil, nil, err
	}
	return layered, layered.Close, nil
}

// newHotTier returns nil when no hot tier is configured.
func newHotTier(ctx context.Context, cfg config.HotTierConfig, back *llmcache.Cache, logger zerolog.Logger) (cache.Cache[string, []llmcache.Generation], error) {
	switch cfg.Backend {
	case "", config.HotTierNone:
		return nil, nil
	case config.HotTierMemory:
		return cache.NewInMemoryLRUCache[string, []llmcache.Generation](cfg.Size, back.Fetcher())
	case config.HotTierRedis:
		return cache.NewRedisCache[string, []llmcache.Generation](ctx, &cfg.Redis, logger, back.Fetcher())
	default:
		return nil, fmt.Errorf("unknown hot tier backend %q", cfg.Backend)
	}
}

func (a *app) embedStore(ctx context.Context) (*embedstore.Store, error) {
	return embedstore.New(ctx, a.backend, a.cfg.EmbedStore, a.logger)
}
