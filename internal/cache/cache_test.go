package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type stubSource struct {
	settings map[string]domain.TenantSettings
	calls    int
	err      error
}

func (s *stubSource) GetTenantSettings(_ context.Context, tenantID string) (*domain.TenantSettings, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.settings[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

type mapCache struct {
	items   map[string]domain.TenantSettings
	failGet bool
}

func (m *mapCache) Get(_ context.Context, tenantID string) (*domain.TenantSettings, bool, error) {
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.items[tenantID]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *mapCache) Set(_ context.Context, s domain.TenantSettings, _ time.Duration) error {
	m.items[s.TenantID] = s
	return nil
}

func (m *mapCache) Invalidate(_ context.Context, tenantID string) error {
	delete(m.items, tenantID)
	return nil
}

var defaults = domain.TenantSettings{TaxRate: decimal.RequireFromString("0.1"), CurrencySymbol: "$"}

func TestLoaderReadsThroughCache(t *testing.T) {
	src := &stubSource{settings: map[string]domain.TenantSettings{
		"t1": {TenantID: "t1", TaxRate: decimal.RequireFromString("0.08"), MaxOrders: 5},
	}}
	c := &mapCache{items: map[string]domain.TenantSettings{}}
	l := NewLoader(src, c, time.Minute, defaults, nil)
	ctx := context.Background()

	first, err := l.TenantSettings(ctx, "t1")
	require.NoError(t, err)
	second, err := l.TenantSettings(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(5), second.MaxOrders)
	assert.Equal(t, 1, src.calls)

	require.NoError(t, l.Invalidate(ctx, "t1"))
	_, err = l.TenantSettings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestLoaderFallsBackToDefaults(t *testing.T) {
	l := NewLoader(&stubSource{}, nil, time.Minute, defaults, nil)

	got, err := l.TenantSettings(context.Background(), "new-tenant")
	require.NoError(t, err)
	assert.Equal(t, "new-tenant", got.TenantID)
	assert.Equal(t, "0.1", got.TaxRate.String())
	assert.Equal(t, int64(0), got.MaxOrders)
}

func TestLoaderIgnoresCacheFailures(t *testing.T) {
	src := &stubSource{settings: map[string]domain.TenantSettings{"t1": {TenantID: "t1", TaxRate: decimal.Zero}}}
	l := NewLoader(src, &mapCache{items: map[string]domain.TenantSettings{}, failGet: true}, time.Minute, defaults, nil)

	got, err := l.TenantSettings(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)
}

func TestLoaderPropagatesSourceErrors(t *testing.T) {
	l := NewLoader(&stubSource{err: errors.New("db down")}, nil, time.Minute, defaults, nil)
	_, err := l.TenantSettings(context.Background(), "t1")
	assert.Error(t, err)
}

func TestRedisSettingsCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RETAILPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set RETAILPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisSettingsCache(client)
	ctx := context.Background()
	tenantID := "it-" + time.Now().Format("150405.000000")

	_, ok, err := c.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, domain.TenantSettings{TenantID: tenantID, TaxRate: decimal.RequireFromString("0.11"), MaxOrders: 9}, time.Minute))
	got, ok, err := c.Get(ctx, tenantID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), got.MaxOrders)

	require.NoError(t, c.Invalidate(ctx, tenantID))
	_, err = client.Get(ctx, settingsKey(tenantID)).Result()
	assert.ErrorIs(t, err, redis.Nil)
}
