// Package config loads the settings of the llmescache service and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-llmescache/pkg/cache"
	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/illmade-knight/go-llmescache/pkg/embedstore"
	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/illmade-knight/go-llmescache/pkg/microservice"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Hot tier backends.
const (
	HotTierNone   = "none"
	HotTierMemory = "memory"
	HotTierRedis  = "redis"
)

// Config holds all llmescache configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Elasticsearch elastic.Config    `yaml:"elasticsearch"`
	LLMCache      llmcache.Config   `yaml:"llm_cache"`
	EmbedStore    embedstore.Config `yaml:"embed_store"`
	HotTier       HotTierConfig     `yaml:"hot_tier"`
}

// HotTierConfig selects the cache placed in front of the LLM cache.
type HotTierConfig struct {
	// Backend is one of none, memory or redis.
	Backend string `yaml:"backend"`
	// Size bounds the in-memory tier.
	Size  int               `yaml:"size"`
	Redis cache.RedisConfig `yaml:"redis"`
}

// Default returns a Config with sensible defaults. Every optional field of
// the stored documents is kept.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			ServiceName: "llmescache",
			LogLevel:    "info",
			HTTPPort:    ":8080",
		},
		Elasticsearch: elastic.Config{
			Addresses: []string{"http://localhost:9200"},
		},
		LLMCache:   llmcache.DefaultConfig("llm-cache"),
		EmbedStore: embedstore.DefaultConfig("embedding-store"),
		HotTier: HotTierConfig{
			Backend: HotTierNone,
			Size:    1024,
			Redis: cache.RedisConfig{
				Addr:     "localhost:6379",
				CacheTTL: time.Hour,
				Prefix:   "llmescache:",
			},
		},
	}
}

// Load reads a YAML config file, expanding environment variables, on top of
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings from well-known environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ES_ADDRESSES"); v != "" {
		var addrs []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		c.Elasticsearch.Addresses = addrs
	}
	setFromEnv(&c.Elasticsearch.Username, "ES_USERNAME")
	setFromEnv(&c.Elasticsearch.Password, "ES_PASSWORD")
	setFromEnv(&c.Elasticsearch.APIKey, "ES_API_KEY")
	setFromEnv(&c.Elasticsearch.CloudID, "ES_CLOUD_ID")
	setFromEnv(&c.LLMCache.Index, "LLMCACHE_INDEX")
	setFromEnv(&c.EmbedStore.Index, "EMBEDSTORE_INDEX")
	setFromEnv(&c.HotTier.Redis.Addr, "REDIS_ADDR")
	setFromEnv(&c.LogLevel, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports every setting that would stop the caches from starting.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Elasticsearch.Addresses) == 0 && c.Elasticsearch.CloudID == "" {
		errs = append(errs, errors.New("elasticsearch: addresses or cloud_id is required"))
	}
	if c.LLMCache.Index == "" {
		errs = append(errs, errors.New("llm_cache: index is required"))
	}
	if c.EmbedStore.Index == "" {
		errs = append(errs, errors.New("embed_store: index is required"))
	}
	switch c.HotTier.Backend {
	case "", HotTierNone:
	case HotTierMemory:
		if c.HotTier.Size <= 0 {
			errs = append(errs, errors.New("hot_tier: size must be greater than 0"))
		}
	case HotTierRedis:
		if c.HotTier.Redis.Addr == "" {
			errs = append(errs, errors.New("hot_tier: redis.addr is required"))
		}
		if c.HotTier.Redis.Prefix == "" {
			errs = append(errs, errors.New("hot_tier: redis.prefix is required so the tier can be purged"))
		}
	default:
		errs = append(errs, fmt.Errorf("hot_tier: unknown backend %q", c.HotTier.Backend))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}
