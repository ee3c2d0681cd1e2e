package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("POS_AUTH_SECRET", "")
	t.Setenv("POS_MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POS_PORT", "")
	t.Setenv("POS_STOCK_POLICY", "")
	t.Setenv("POS_DEFAULT_TAX_RATE", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Empty(t, cfg.StockPolicy)
	assert.Equal(t, "0.1", cfg.DefaultTaxRate.String())
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("POS_PORT", "9090")
	t.Setenv("POS_STOCK_POLICY", "WARN")
	t.Setenv("POS_DEFAULT_TAX_RATE", "0.08")
	t.Setenv("POS_DEFAULT_MAX_ORDERS", "50")
	t.Setenv("POS_LOCK_TTL_SECONDS", "-3")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "WARN", cfg.StockPolicy)
	assert.Equal(t, "0.08", cfg.DefaultTaxRate.String())
	assert.Equal(t, int64(50), cfg.DefaultMaxOrders)
	assert.Equal(t, 5, cfg.LockTTLSeconds)
}

func TestLoadFallsBackOnInvalidTaxRate(t *testing.T) {
	t.Setenv("POS_DEFAULT_TAX_RATE", "abc")

	cfg := Load()
	assert.Equal(t, "0.1", cfg.DefaultTaxRate.String())
}
