package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexExcludesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inside, maxInside := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, ProductKey("t1", "p1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
	assert.Empty(t, m.slots)
}

func TestKeyedMutexOverlappingSetsDoNotDeadlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		keys := []string{"a", "b", "c"}
		if i%2 == 1 {
			keys = []string{"c", "b", "a"}
		}
		go func(keys []string) {
			defer wg.Done()
			unlock, err := m.Lock(ctx, keys...)
			if assert.NoError(t, err) {
				unlock()
			}
		}(keys)
	}
	wg.Wait()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "b", "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" was taken first and must have been released by the failed attempt.
	unlockA, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockA()
	unlock()
	unlock()
	assert.Empty(t, m.slots)
}

func TestRedisLockerReportsBusy(t *testing.T) {
	addr := os.Getenv("RETAILPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RETAILPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(client, time.Second, nil)
	l.retries = 1
	key := ProductKey("it", time.Now().Format(time.RFC3339Nano))

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	_, err = l.Lock(context.Background(), key)
	assert.ErrorIs(t, err, ErrBusy)
	unlock()

	unlock, err = l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}
