package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheConfig contains Redis cache configuration.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// CachedEmbedder decorates an Embedder with a Redis cache keyed by a hash of
// the input text. Cache failures degrade to a miss, never to an error.
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	config *CacheConfig
	logger *zap.Logger
}

// NewCachedEmbedder connects to Redis and wraps the inner embedder.
func NewCachedEmbedder(cfg *CacheConfig, inner Embedder, logger *zap.Logger) (*CachedEmbedder, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Embedding cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return &CachedEmbedder{inner: inner, client: client, config: cfg, logger: logger}, nil
}

// Embed returns a cached vector or falls through to the inner embedder and
// stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		vec, decodeErr := bytesToVector(data)
		if decodeErr == nil {
			c.logger.Debug("Embedding cache hit", zap.String("key", key))
			return vec, nil
		}
		c.logger.Warn("Corrupted cached embedding, dropping entry",
			zap.String("key", key), zap.Error(decodeErr))
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("Embedding cache lookup failed", zap.Error(err))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, vectorToBytes(vec), c.config.DefaultTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
	return vec, nil
}

// Close closes the Redis connection.
func (c *CachedEmbedder) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:emb:%s", c.config.KeyPrefix, hex.EncodeToString(sum[:])[:16])
}

// vectorToBytes packs a float32 slice little-endian for compact cache values.
func vectorToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached embedding: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// maskRedisURL masks the password component of a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
