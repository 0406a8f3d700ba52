// Package counter keeps short-lived event counts shared across replicas.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowCounter counts events in fixed windows. Incr returns the count of
// the current window including this event.
type WindowCounter interface {
	Incr(ctx context.Context) (int64, error)
}

// RedisWindowCounter implements WindowCounter with INCR and a TTL that is
// set when the window opens.
type RedisWindowCounter struct {
	client *redis.Client
	key    string
	window time.Duration
}

// NewRedisWindowCounter creates a counter stored under key.
func NewRedisWindowCounter(client *redis.Client, key string, window time.Duration) *RedisWindowCounter {
	return &RedisWindowCounter{client: client, key: key, window: window}
}

func (c *RedisWindowCounter) Incr(ctx context.Context) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, c.key)
	pipe.ExpireNX(ctx, c.key, c.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryWindowCounter is the single-process WindowCounter.
type MemoryWindowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	count   int64
	resetAt time.Time
	now     func() time.Time
}

// NewMemoryWindowCounter creates an in-process counter.
func NewMemoryWindowCounter(window time.Duration) *MemoryWindowCounter {
	return &MemoryWindowCounter{window: window, now: time.Now}
}

func (c *MemoryWindowCounter) Incr(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !now.Before(c.resetAt) {
		c.count = 0
		c.resetAt = now.Add(c.window)
	}
	c.count++
	return c.count, nil
}
