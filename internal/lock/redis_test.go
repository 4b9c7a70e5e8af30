package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, opts ...RedisOption) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, opts...), mr
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr := setupTestRedis(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, CartKey("user-1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:cart:user-1"))

	unlock()
	assert.False(t, mr.Exists("lock:cart:user-1"))
}

func TestRedisLocker_SetsTTL(t *testing.T) {
	locker, mr := setupTestRedis(t, WithTTL(10*time.Second))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	assert.Equal(t, 10*time.Second, mr.TTL("lock:k"))
}

func TestRedisLocker_BusyKeyTimesOut(t *testing.T) {
	locker, _ := setupTestRedis(t, WithWait(100*time.Millisecond), WithRetryInterval(10*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	locker, _ := setupTestRedis(t, WithWait(2*time.Second), WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	unlock2, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	locker, mr := setupTestRedis(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// The lock expired and another holder took the key.
	mr.Del("lock:k")
	require.NoError(t, mr.Set("lock:k", "someone-else"))

	unlock()

	value, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker, _ := setupTestRedis(t, WithWait(5*time.Second), WithRetryInterval(time.Millisecond))
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestRedisLocker_ContextCanceled(t *testing.T) {
	locker, _ := setupTestRedis(t)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = locker.Lock(ctx, "k")
	assert.Error(t, err)
}
