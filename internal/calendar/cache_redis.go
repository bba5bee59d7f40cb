package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	str2duration "github.com/xhit/go-str2duration/v2"
)

var _ Cache = (*RedisCache)(nil)

// DefaultRedisTTL keeps a resolution for one day.
const DefaultRedisTTL = 24 * time.Hour

// RedisCache stores windows as JSON strings with a TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. ttl accepts day units ("1d",
// "1d12h"); empty means DefaultRedisTTL.
func NewRedisCache(client redis.UniversalClient, ttl string) (*RedisCache, error) {
	d := DefaultRedisTTL
	if ttl != "" {
		parsed, err := str2duration.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("parse calendar cache ttl %q: %w", ttl, err)
		}
		d = parsed
	}
	return &RedisCache{client: client, ttl: d}, nil
}

// TTL returns the expiry applied to new entries.
func (c *RedisCache) TTL() time.Duration { return c.ttl }

// Locate returns the redis key.
func (c *RedisCache) Locate(key Key) string {
	return fmt.Sprintf("limitboard:calendar:%s:%s:%s", key.Market, key.Ticker, key.AsOf)
}

func (c *RedisCache) Get(ctx context.Context, key Key) (Window, bool, error) {
	data, err := c.client.Get(ctx, c.Locate(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Window{}, false, nil
		}
		return Window{}, false, err
	}
	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, false, fmt.Errorf("decode %s: %w", c.Locate(key), err)
	}
	return w, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key Key, w Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Locate(key), data, c.ttl).Err()
}
