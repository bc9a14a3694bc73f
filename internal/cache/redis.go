package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/pkg/types"
)

// Serializer defines how retrieval results are encoded on the wire.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer uses JSON for serialization.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// RedisCache shares retrieval results across replicas through Redis.
// Redis failures degrade to cache misses; retrieval never depends on the
// cache being reachable.
type RedisCache struct {
	client     redis.UniversalClient
	config     *RedisConfig
	serializer Serializer
	logger     *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache creates a Redis cache and verifies the connection.
func NewRedisCache(config *RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch {
	case config.ClusterEnabled:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port))},
			Password:     config.Password,
			PoolSize:     config.PoolSize,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			DialTimeout:  config.DialTimeout,
			TLSConfig:    config.TLS,
		})

	case config.SentinelEnabled:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			SentinelAddrs: config.SentinelAddrs,
			MasterName:    config.MasterName,
			Password:      config.Password,
			DB:            config.DB,
			PoolSize:      config.PoolSize,
			ReadTimeout:   config.ReadTimeout,
			WriteTimeout:  config.WriteTimeout,
			DialTimeout:   config.DialTimeout,
			TLSConfig:     config.TLS,
		})

	default:
		client = redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
			Password:     config.Password,
			DB:           config.DB,
			PoolSize:     config.PoolSize,
			PoolTimeout:  config.PoolTimeout,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			DialTimeout:  config.DialTimeout,
			TLSConfig:    config.TLS,
		})
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config, logger), nil
}

// NewRedisCacheFromClient wraps an existing client. The caller owns the
// configuration validity.
func NewRedisCacheFromClient(client redis.UniversalClient, config *RedisConfig, logger *zap.Logger) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client:     client,
		config:     config,
		serializer: JSONSerializer{},
		logger:     logger,
	}
}

// Get retrieves a result from Redis. Any failure counts as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*types.RetrievalResult, bool) {
	data, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Redis get failed", zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}

	result := &types.RetrievalResult{}
	if err := c.serializer.Unmarshal(data, result); err != nil {
		c.logger.Debug("Corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return result, true
}

// Set stores a result with the configured TTL. Failures are logged and
// ignored.
func (c *RedisCache) Set(ctx context.Context, key string, result *types.RetrievalResult) {
	data, err := c.serializer.Marshal(result)
	if err != nil {
		c.logger.Debug("Serializing cache entry failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.config.KeyPrefix+key, data, c.config.TTL).Err(); err != nil {
		c.logger.Debug("Redis set failed", zap.Error(err))
	}
}

// Delete removes a key from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, c.config.KeyPrefix+key)
}

// Clear removes every entry under the configured key prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Debug("Redis scan failed", zap.Error(err))
	}
	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

// Stats returns cache statistics.
func (c *RedisCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	size := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if dbSize, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(dbSize)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
