// Package redisguard keeps two engine processes from executing the same signal:
// the first to SETNX the order link id wins, the key expires after a TTL.
package redisguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KeyPrefix  = "tradeengine:exec"
	DefaultTTL = 10 * time.Minute
)

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Owner    string
}

type Guard struct {
	client client
	ttl    time.Duration
	owner  string
}

// New dials redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Guard, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis guard: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	g := newGuard(rdb, opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis guard: ping %s: %w", addr, err)
	}
	return g, nil
}

func newGuard(c client, opts Options) *Guard {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	owner := strings.TrimSpace(opts.Owner)
	if owner == "" {
		owner = "tradeengine"
	}
	return &Guard{client: c, ttl: ttl, owner: owner}
}

func key(orderLinkID string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, orderLinkID)
}

// Acquire returns true when this process now holds the execution right for orderLinkID.
func (g *Guard) Acquire(ctx context.Context, orderLinkID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key(orderLinkID), g.owner, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard acquire %s: %w", orderLinkID, err)
	}
	return ok, nil
}

// Release drops the key so a failed execution can be retried before the TTL.
func (g *Guard) Release(ctx context.Context, orderLinkID string) error {
	if err := g.client.Del(ctx, key(orderLinkID)).Err(); err != nil {
		return fmt.Errorf("redis guard release %s: %w", orderLinkID, err)
	}
	return nil
}

func (g *Guard) Close() error {
	if c, ok := g.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
