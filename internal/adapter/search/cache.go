package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/metrics"
)

// Cache stores search results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]domain.SearchResult, bool, error)
	Set(ctx context.Context, key string, results []domain.SearchResult, ttl time.Duration) error
}

// RedisCache keeps results as JSON strings in redis.
type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to the redis server at url and pings it.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get returns the cached results for key, if any.
func (c *RedisCache) Get(ctx context.Context, key string) ([]domain.SearchResult, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var results []domain.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached results: %w", err)
	}
	return results, true, nil
}

// Set stores results under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, results []domain.SearchResult, ttl time.Duration) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedSearcher consults a cache before delegating to the wrapped searcher.
// Cache failures are logged and otherwise ignored.
type CachedSearcher struct {
	next   Searcher
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

var _ Searcher = (*CachedSearcher)(nil)

// NewCachedSearcher wraps next with cache.
func NewCachedSearcher(next Searcher, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedSearcher {
	return &CachedSearcher{next: next, cache: cache, ttl: ttl, logger: logger}
}

// CacheKey is the key under which results for query and count are stored.
func CacheKey(query string, count int) string {
	return fmt.Sprintf("search:%d:%s", count, query)
}

// Search serves from cache when possible.
func (s *CachedSearcher) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	key := CacheKey(query, count)
	results, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("search cache read failed", zap.Error(err))
	}
	if ok {
		metrics.SearchTotal.WithLabelValues("cache_hit").Inc()
		return results, nil
	}

	results, err = s.next.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, results, s.ttl); err != nil {
		s.logger.Warn("search cache write failed", zap.Error(err))
	}
	return results, nil
}
