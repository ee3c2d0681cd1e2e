package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

type RedisSettingsCache struct {
	client redis.UniversalClient
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisSettingsCache(client redis.UniversalClient) *RedisSettingsCache {
	return &RedisSettingsCache{client: client}
}

func settingsKey(tenantID string) string {
	return "pos:settings:" + tenantID
}

func (c *RedisSettingsCache) Get(ctx context.Context, tenantID string) (*domain.TenantSettings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var settings domain.TenantSettings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, settings domain.TenantSettings, ttl time.Duration) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKey(settings.TenantID), payload, ttl).Err()
}

func (c *RedisSettingsCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, settingsKey(tenantID)).Err()
}
