package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type SettingsCache interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantSettings, bool, error)
	Set(ctx context.Context, settings domain.TenantSettings, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context, _ string) (*domain.TenantSettings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ domain.TenantSettings, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type SettingsSource interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*domain.TenantSettings, error)
}

// Loader resolves tenant settings through the cache. Tenants without a stored
// row get the configured defaults. Cache failures are logged, never returned.
type Loader struct {
	source   SettingsSource
	cache    SettingsCache
	ttl      time.Duration
	defaults domain.TenantSettings
	log      *zap.Logger
}

func NewLoader(source SettingsSource, c SettingsCache, ttl time.Duration, defaults domain.TenantSettings, log *zap.Logger) *Loader {
	if c == nil {
		c = NoopSettingsCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{source: source, cache: c, ttl: ttl, defaults: defaults, log: log}
}

func (l *Loader) TenantSettings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	cached, ok, err := l.cache.Get(ctx, tenantID)
	if err != nil {
		l.log.Warn("settings cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	settings, err := l.source.GetTenantSettings(ctx, tenantID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fallback := l.defaults
		fallback.TenantID = tenantID
		settings = &fallback
	case err != nil:
		return domain.TenantSettings{}, err
	}

	if err := l.cache.Set(ctx, *settings, l.ttl); err != nil {
		l.log.Warn("settings cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return *settings, nil
}

// Invalidate drops a tenant's cached settings after they change.
func (l *Loader) Invalidate(ctx context.Context, tenantID string) error {
	return l.cache.Invalidate(ctx, tenantID)
}
