package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LabelCache handles Redis-based caching of classification labels keyed by
// the hash of the masked text. Original email text never reaches Redis.
type LabelCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLabelCache creates a new Redis-based label cache
func NewLabelCache(config *Config, logger *zap.Logger) (*LabelCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := &LabelCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		_ = cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Label cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Get looks up the label cached for a masked text. Redis failures are
// logged and reported as a miss.
func (lc *LabelCache) Get(ctx context.Context, maskedText string) (*LookupResult, error) {
	key := labelKey(lc.config.KeyPrefix, maskedText)

	data, err := lc.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		lc.misses.Add(1)
		lc.logger.Debug("Cache miss", zap.String("key", key))
		return &LookupResult{CacheHit: false}, nil
	} else if err != nil {
		lc.misses.Add(1)
		lc.logger.Error("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}, nil
	}

	var cached CachedLabel
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		lc.misses.Add(1)
		lc.logger.Error("Failed to unmarshal cached label", zap.Error(err))
		lc.client.Del(ctx, key)
		return &LookupResult{CacheHit: false}, nil
	}

	lc.hits.Add(1)
	lc.logger.Debug("Cache hit", zap.String("key", key), zap.String("label", cached.Label))

	return &LookupResult{Label: &cached, CacheHit: true}, nil
}

// Set caches the label for a masked text with the default TTL
func (lc *LabelCache) Set(ctx context.Context, maskedText string, label *CachedLabel) error {
	key := labelKey(lc.config.KeyPrefix, maskedText)

	label.CachedAt = time.Now()
	label.TTL = int64(lc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(label)
	if err != nil {
		return fmt.Errorf("failed to marshal label for caching: %w", err)
	}

	if err := lc.client.Set(ctx, key, data, lc.config.DefaultTTL).Err(); err != nil {
		lc.logger.Error("Failed to cache label", zap.Error(err))
		return fmt.Errorf("failed to cache label: %w", err)
	}

	lc.logger.Debug("Label cached", zap.String("key", key), zap.String("label", label.Label))
	return nil
}

// GetStats returns cache performance statistics. Memory usage is left at
// zero when the server does not allow INFO.
func (lc *LabelCache) GetStats(ctx context.Context) (*CacheStats, error) {
	keys, err := lc.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis key count: %w", err)
	}

	stats := &CacheStats{
		Hits:      lc.hits.Load(),
		Misses:    lc.misses.Load(),
		TotalKeys: keys,
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)

	if info, err := lc.client.Info(ctx, "memory").Result(); err == nil {
		stats.MemoryUsage = parseUsedMemory(info)
	} else {
		lc.logger.Warn("Redis memory info unavailable", zap.Error(err))
	}

	return stats, nil
}

// Clear removes all cached labels under the key prefix
func (lc *LabelCache) Clear(ctx context.Context) error {
	iter := lc.client.Scan(ctx, 0, lc.config.KeyPrefix+":label:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := lc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	lc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (lc *LabelCache) Close() error {
	if lc.client != nil {
		return lc.client.Close()
	}
	return nil
}

// labelKey derives the cache key for a masked text
func labelKey(prefix, maskedText string) string {
	sum := sha256.Sum256([]byte(maskedText))
	return fmt.Sprintf("%s:label:%s", prefix, hex.EncodeToString(sum[:]))
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// parseUsedMemory extracts used_memory from a Redis INFO reply
func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
