// Package dedupe suppresses platform redeliveries of the same callback.
//
// The platform retries a callback when it does not get an answer within a
// few seconds, which easily happens while a slow forward is in flight. A
// retry may be re-encrypted and re-signed, so callers key the guard on the
// decrypted message identity (MsgId, or sender and CreateTime for events)
// and remember it for a short TTL.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers the platform's retry window with margin.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "wecom-bridge:seen:"

// Guard reports whether a callback key has been seen before.
// The first call for a key records it and returns false.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

type noopGuard struct{}

// Noop returns a guard that never reports duplicates.
func Noop() Guard { return noopGuard{} }

func (noopGuard) Seen(context.Context, string) (bool, error) { return false, nil }
func (noopGuard) Close() error                               { return nil }

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to redisURL and verifies the connection.
func NewRedisGuard(redisURL string, ttl time.Duration) (Guard, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newRedisGuard(client, ttl), nil
}

func newRedisGuard(client *redis.Client, ttl time.Duration) *redisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisGuard{client: client, ttl: ttl}
}

// Seen uses SETNX so concurrent redeliveries race safely: exactly one
// caller observes the key as new.
func (g *redisGuard) Seen(ctx context.Context, key string) (bool, error) {
	created, err := g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !created, nil
}

func (g *redisGuard) Close() error {
	return g.client.Close()
}
