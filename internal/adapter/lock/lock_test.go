package lock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vndrag/internal/port"
)

func exerciseLocker(t *testing.T, l port.Locker, key string) {
	t.Helper()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	other, ok, err := l.TryLock(ctx, key+"-other")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
	other()

	unlock()
	unlock() // idempotent

	again, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "policy_A")
}

func TestLocal_SingleFlight(t *testing.T) {
	l := NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, ok, _ := l.TryLock(context.Background(), "k")
			if !ok {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestKeepAlive_RenewsUntilDone(t *testing.T) {
	var renewals atomic.Int32
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		keepAlive(5*time.Millisecond, done, func() (bool, error) {
			renewals.Add(1)
			return true, nil
		}, slog.Default())
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return renewals.Load() >= 3 }, time.Second, time.Millisecond)
	close(done)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop after release")
	}
}

func TestKeepAlive_StopsWhenLeaseLost(t *testing.T) {
	var renewals atomic.Int32
	stopped := make(chan struct{})
	go func() {
		keepAlive(5*time.Millisecond, make(chan struct{}), func() (bool, error) {
			if renewals.Add(1) == 1 {
				return false, errors.New("connection reset")
			}
			return false, nil
		}, slog.Default())
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept running after the lease was lost")
	}
	assert.Equal(t, int32(2), renewals.Load(), "an error is retried, a lost lease is not")
}

// Set VNDRAG_TEST_REDIS_ADDR to run against a real server.
func TestRedis(t *testing.T) {
	addr := os.Getenv("VNDRAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VNDRAG_TEST_REDIS_ADDR not set")
	}

	r, err := NewRedis(context.Background(), RedisConfig{Addr: addr, Prefix: "vndrag:test:", TTL: time.Minute}, nil)
	require.NoError(t, err)
	defer r.Close()

	exerciseLocker(t, r, "doc-"+time.Now().Format("150405.000000"))
}

func TestRedis_ReleaseKeepsForeignLease(t *testing.T) {
	addr := os.Getenv("VNDRAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VNDRAG_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	r := NewRedisWithClient(client, "vndrag:test:", time.Minute, nil)
	key := "lease-" + time.Now().Format("150405.000000")

	unlock, ok, err := r.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry and takeover by another holder
	require.NoError(t, client.Set(ctx, "vndrag:test:"+key, "someone-else", time.Minute).Err())
	unlock()

	val, err := client.Get(ctx, "vndrag:test:"+key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
	client.Del(ctx, "vndrag:test:"+key)
}

func TestRedis_LeaseOutlivesTTLWhileHeld(t *testing.T) {
	addr := os.Getenv("VNDRAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VNDRAG_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	r := NewRedisWithClient(client, "vndrag:test:", 300*time.Millisecond, nil)
	key := "renew-" + time.Now().Format("150405.000000")

	unlock, ok, err := r.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// a slow embedding call holds the document well past the TTL
	time.Sleep(time.Second)
	_, ok, err = r.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "a held lease must not expire")

	unlock()
	again, ok, err := r.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}
