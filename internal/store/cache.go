package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Valkey keys of the hot path. The value is the row as JSON.
const (
	KeyLastMeasurement = "serversure:last:measurement"
	KeyLastAlert       = "serversure:last:alert"
)

// LastValueCache keeps the newest measurement and the newest alert in
// Valkey (Redis). The store stays the source of truth; the cache only
// spares the query API a round trip for the "latest" endpoints.
type LastValueCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLastValueCache connects to addr (host:port) and pings it.
func NewLastValueCache(ctx context.Context, addr string, ttl time.Duration) (*LastValueCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("valkey unreachable: %w", err)
	}
	if ttl <= 0 {
		// Dead sensors drop out of the cache after a day.
		ttl = 24 * time.Hour
	}
	return &LastValueCache{rdb: rdb, ttl: ttl}, nil
}

func (c *LastValueCache) Close() error {
	return c.rdb.Close()
}

func (c *LastValueCache) SetMeasurement(ctx context.Context, m Measurement) error {
	return c.set(ctx, KeyLastMeasurement, m)
}

func (c *LastValueCache) SetAlert(ctx context.Context, a Alert) error {
	return c.set(ctx, KeyLastAlert, a)
}

// LastMeasurement returns ErrNotFound on a cache miss (key missing or expired).
func (c *LastValueCache) LastMeasurement(ctx context.Context) (Measurement, error) {
	var m Measurement
	err := c.get(ctx, KeyLastMeasurement, &m)
	return m, err
}

func (c *LastValueCache) LastAlert(ctx context.Context) (Alert, error) {
	var a Alert
	err := c.get(ctx, KeyLastAlert, &a)
	return a, err
}

func (c *LastValueCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

func (c *LastValueCache) get(ctx context.Context, key string, v any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("valkey get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
