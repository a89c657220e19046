package loaders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisGetter is the subset of the Redis client used by RedisSource.
type RedisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSource loads JSON encoded values stored under string keys in Redis.
type RedisSource[V any] struct {
	client    RedisGetter
	keyPrefix string
	logger    zerolog.Logger
	// owned is set when the source created the client and must close it.
	owned *redis.Client
}

// NewRedisSource connects to Redis and pings it before returning.
func NewRedisSource[V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisSource[V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	src := NewRedisSourceWithClient[V](rdb, cfg.KeyPrefix, logger)
	src.owned = rdb
	return src, nil
}

// NewRedisSourceWithClient wraps an existing client. The client is not closed by Close.
func NewRedisSourceWithClient[V any](client RedisGetter, keyPrefix string, logger zerolog.Logger) *RedisSource[V] {
	return &RedisSource[V]{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With().Str("component", "RedisSource").Logger(),
	}
}

// Load reads key from Redis and decodes it into V.
func (s *RedisSource[V]) Load(ctx context.Context, key string) (V, error) {
	var zero V
	fullKey := s.keyPrefix + key

	data, err := s.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug().Str("key", fullKey).Msg("Key not found in Redis.")
			return zero, fmt.Errorf("redis key %s: %w", fullKey, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", fullKey).Msg("Unexpected Redis error during load.")
		return zero, fmt.Errorf("redis get for %s: %w", fullKey, err)
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		s.logger.Error().Err(err).Str("key", fullKey).Msg("Failed to unmarshal Redis value.")
		return zero, fmt.Errorf("failed to unmarshal data for %s: %w", fullKey, err)
	}

	s.logger.Debug().Str("key", fullKey).Msg("Loaded value from Redis.")
	return value, nil
}

// Loader returns a Loader for key.
func (s *RedisSource[V]) Loader(key string) query.Loader[V] {
	return For[V](s, key)
}

// Close closes the Redis client if the source created it.
func (s *RedisSource[V]) Close() error {
	if s.owned != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.owned.Close()
	}
	return nil
}
