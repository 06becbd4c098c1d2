package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"listing-aggregator/internal/models"

	"github.com/go-redis/redis/v8"
)

// resultCacheTTL bounds how long a serialized search page may be served
// without touching the store.
const resultCacheTTL = 2 * time.Minute

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func resultKey(queryHash string, page int, sortBy, tier string) string {
	return fmt.Sprintf("search:%s:%d:%s:%s", queryHash, page, sortBy, tier)
}

// GetSearchResult returns a cached search page, or nil on miss.
func (c *Client) GetSearchResult(ctx context.Context, queryHash string, page int, sortBy, tier string) (*models.SearchResult, error) {
	data, err := c.rdb.Get(ctx, resultKey(queryHash, page, sortBy, tier)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &result, nil
}

// SetSearchResult caches a search page with a short TTL.
func (c *Client) SetSearchResult(ctx context.Context, queryHash string, page int, sortBy, tier string, result *models.SearchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return c.rdb.Set(ctx, resultKey(queryHash, page, sortBy, tier), data, resultCacheTTL).Err()
}

// InvalidateQuery drops all cached pages for a query hash. Used after a fresh
// fetch replaces stored content.
func (c *Client) InvalidateQuery(ctx context.Context, queryHash string) error {
	iter := c.rdb.Scan(ctx, 0, fmt.Sprintf("search:%s:*", queryHash), 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// AcquireLock acquires a best-effort distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
