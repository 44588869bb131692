package redisguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	keys   map[string]time.Duration
	failed error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{keys: map[string]time.Duration{}} }

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed != nil {
		return redis.NewBoolResult(false, f.failed)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func TestAcquireOnce(t *testing.T) {
	fake := newFakeRedis()
	g := newGuard(fake, Options{TTL: time.Minute})
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "te-abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, fake.keys["tradeengine:exec:te-abc"])

	ok, err = g.Acquire(ctx, "te-abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "te-abc"))
	ok, err = g.Acquire(ctx, "te-abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	g := newGuard(newFakeRedis(), Options{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Acquire(context.Background(), "te-race")
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestAcquireError(t *testing.T) {
	fake := newFakeRedis()
	fake.failed = errors.New("connection refused")
	g := newGuard(fake, Options{})
	ok, err := g.Acquire(context.Background(), "te-x")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
}

func TestDefaults(t *testing.T) {
	g := newGuard(newFakeRedis(), Options{})
	assert.Equal(t, DefaultTTL, g.ttl)
	assert.Equal(t, "tradeengine", g.owner)
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
