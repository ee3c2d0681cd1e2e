package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLocker shares product locks across server instances.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	log     *zap.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retries: 40,
		log:     log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = sortedUnique(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), l.retries),
	}
	for _, key := range keys {
		lk, err := l.client.Obtain(ctx, key, l.ttl, opts)
		if err != nil {
			l.release(held)
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, ErrBusy
			}
			return nil, err
		}
		held = append(held, lk)
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *RedisLocker) release(held []*redislock.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn("release product lock", zap.String("key", held[i].Key()), zap.Error(err))
		}
	}
}
