package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"ttl"`
	// Prefix namespaces every key this cache writes, so Purge can find them.
	Prefix string `yaml:"prefix"`
}

// purgeBatch is the SCAN page size used by Purge.
const purgeBatch = 500

// RedisCache is a generic cache implementation using Redis. Values are stored
// as JSON. It can be configured with a fallback Fetcher to use on a cache miss.
type RedisCache[K comparable, V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
	fallback    Fetcher[K, V]
}

// NewRedisCache creates and connects a new generic RedisCache.
// It pings the Redis server to ensure connectivity before returning.
// It can optionally be provided with a fallback Fetcher to use on a cache miss.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("prefix", cfg.Prefix).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		ttl:         cfg.CacheTTL,
		prefix:      cfg.Prefix,
		fallback:    fallback,
	}, nil
}

// Fetch retrieves an item by key. It first checks Redis. On a miss, if a
// fallback is configured, it fetches from the fallback and writes the result
// back to Redis before returning it. A failed write-back is logged, not
// returned, since the caller already has the value.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	value, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return value, nil
	}

	// A redis.Nil error is a normal cache miss. Any other error is a genuine problem.
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in redis cache: %w", key, ErrMiss)
	}

	sourceValue, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return zero, sourceErr
	}

	if writeErr := c.Write(ctx, key, sourceValue); writeErr != nil {
		c.logger.Warn().Err(writeErr).Str("key", c.redisKey(key)).Msg("Failed to write fallback value back to Redis.")
	}
	return sourceValue, nil
}

// fetchFromRedis is an unexported method to get a value directly from Redis.
func (c *RedisCache[K, V]) fetchFromRedis(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		// Let the caller handle distinguishing redis.Nil from other errors.
		return zero, err
	}

	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// Write sets a value in Redis with the configured TTL.
func (c *RedisCache[K, V]) Write(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to marshal data for caching.")
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set data in Redis cache.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Purge deletes every key under the configured prefix. Without a prefix it
// refuses to run, as it would wipe the whole database.
func (c *RedisCache[K, V]) Purge(ctx context.Context) error {
	if c.prefix == "" {
		return errors.New("refusing to purge a redis cache without a key prefix")
	}
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.redisClient.Scan(ctx, cursor, c.prefix+"*", purgeBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan redis keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redisClient.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete redis keys: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info().Int("deleted", deleted).Msg("Purged Redis cache.")
	return nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s%v", c.prefix, key)
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
