package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/assert/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	c, err := NewClient(s.Host(), port, "", 0, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "newsprism:embedding:abc", embeddingKey("abc"))
	assert.Equal(t, "newsprism:runs:scrape:completed", counterKey("scrape", "completed"))
	assert.Equal(t, "newsprism:lock:analyze", lockKey("analyze"))
}

func TestStageLockExcludesOtherOwners(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()

	release, err := c.AcquireStageLock(ctx, "scrape", "run-a", time.Minute)
	assert.Equal(t, nil, err)
	owner, _ := s.Get(lockKey("scrape"))
	assert.Equal(t, "run-a", owner)

	_, err = c.AcquireStageLock(ctx, "scrape", "run-b", time.Minute)
	assert.Equal(t, ErrLocked, err)

	// Other stages are independent.
	releaseEmbed, err := c.AcquireStageLock(ctx, "embed", "run-b", time.Minute)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, releaseEmbed(ctx))

	assert.Equal(t, nil, release(ctx))
	assert.Equal(t, false, s.Exists(lockKey("scrape")))

	_, err = c.AcquireStageLock(ctx, "scrape", "run-b", time.Minute)
	assert.Equal(t, nil, err)
}

func TestExpiredReleaseKeepsNewHolder(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()

	staleRelease, err := c.AcquireStageLock(ctx, "analyze", "run-a", time.Second)
	assert.Equal(t, nil, err)

	s.FastForward(2 * time.Second)
	assert.Equal(t, false, s.Exists(lockKey("analyze")))

	_, err = c.AcquireStageLock(ctx, "analyze", "run-b", time.Minute)
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, staleRelease(ctx))
	owner, _ := s.Get(lockKey("analyze"))
	assert.Equal(t, "run-b", owner)

	_, err = c.AcquireStageLock(ctx, "analyze", "run-c", time.Minute)
	assert.Equal(t, ErrLocked, err)
}

func TestRunCounters(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.RunCounter(ctx, "scrape", "succeeded")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(0), n)

	assert.Equal(t, nil, c.IncrementRunCounter(ctx, "scrape", "succeeded"))
	assert.Equal(t, nil, c.IncrementRunCounter(ctx, "scrape", "succeeded"))
	assert.Equal(t, nil, c.IncrementRunCounter(ctx, "scrape", "failed"))

	n, _ = c.RunCounter(ctx, "scrape", "succeeded")
	assert.Equal(t, int64(2), n)
	n, _ = c.RunCounter(ctx, "scrape", "failed")
	assert.Equal(t, int64(1), n)
}

func TestEmbeddingCacheExpires(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "h1")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)

	assert.Equal(t, nil, c.SetEmbedding(ctx, "h1", []float32{0.5, -1}, time.Hour))
	got, ok, err := c.GetEmbedding(ctx, "h1")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, []float32{0.5, -1}, got)

	s.FastForward(2 * time.Hour)
	_, ok, _ = c.GetEmbedding(ctx, "h1")
	assert.Equal(t, false, ok)
}
