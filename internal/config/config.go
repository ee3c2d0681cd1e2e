package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds raw settings. StockPolicy is passed through untouched for
// pos.ParseStockPolicy to interpret.
type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	LogLevel                string
	LogFormat               string
	StockPolicy             string
	DefaultTaxRate          decimal.Decimal
	DefaultMaxOrders        int64
	SettingsCacheTTLSeconds int
	LockTTLSeconds          int
}

// Load reads configuration from POS_-prefixed environment variables. A local
// .env file is loaded first when present; real environment values win.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("POS")
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("redis_db", 0)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("default_tax_rate", "0.1")
	v.SetDefault("default_max_orders", 0)
	v.SetDefault("settings_cache_ttl_seconds", 30)
	v.SetDefault("lock_ttl_seconds", 5)

	// Auth values are bound without defaults so weak credentials are never injected.
	_ = v.BindEnv("database_url")
	_ = v.BindEnv("redis_addr")
	_ = v.BindEnv("redis_password")
	_ = v.BindEnv("auth_secret")
	_ = v.BindEnv("manager_pin")

	cfg := Config{
		Port:                    v.GetString("port"),
		AllowedOrigin:           v.GetString("allowed_origin"),
		DatabaseURL:             strings.TrimSpace(v.GetString("database_url")),
		RedisAddr:               strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:           v.GetString("redis_password"),
		RedisDB:                 v.GetInt("redis_db"),
		AuthSecret:              strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes:   v.GetInt("access_token_ttl_minutes"),
		ManagerPIN:              strings.TrimSpace(v.GetString("manager_pin")),
		LogLevel:                v.GetString("log_level"),
		LogFormat:               v.GetString("log_format"),
		StockPolicy:             v.GetString("stock_policy"),
		DefaultMaxOrders:        v.GetInt64("default_max_orders"),
		SettingsCacheTTLSeconds: v.GetInt("settings_cache_ttl_seconds"),
		LockTTLSeconds:          v.GetInt("lock_ttl_seconds"),
	}

	applyDefaults(&cfg, v.GetString("default_tax_rate"))
	return cfg
}

func applyDefaults(cfg *Config, taxRate string) {
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(taxRate))
	if err != nil || rate.IsNegative() {
		rate = decimal.RequireFromString("0.1")
	}
	cfg.DefaultTaxRate = rate
	if cfg.DefaultMaxOrders < 0 {
		cfg.DefaultMaxOrders = 0
	}
	if cfg.SettingsCacheTTLSeconds < 1 {
		cfg.SettingsCacheTTLSeconds = 30
	}
	if cfg.LockTTLSeconds < 1 {
		cfg.LockTTLSeconds = 5
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
