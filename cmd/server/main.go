package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/lock"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/pos"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
	"retailpos/backend/internal/store/redisheld"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	zl := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable and POS_DATABASE_URL is set; refusing in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			zl.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zl.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		zl.Info("repository: in-memory")
		if memory.UsingDefaultSeedCredentials() {
			zl.Warn("demo accounts use default passwords; set POS_SEED_ADMIN_PASSWORD and POS_SEED_CASHIER_PASSWORD")
		}
	}

	var (
		held          store.HeldOrderStore
		locker        lock.Locker         = lock.NewKeyedMutex()
		settingsCache cache.SettingsCache = cache.NoopSettingsCache{}
	)
	if h, ok := repo.(store.HeldOrderStore); ok {
		held = h
	}

	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			zl.Warn("redis unavailable, using in-process locks and repository held orders", zap.Error(err))
			_ = client.Close()
		} else {
			held = redisheld.New(client, zl.Named("redisheld"))
			locker = lock.NewRedisLocker(client, time.Duration(cfg.LockTTLSeconds)*time.Second, zl)
			settingsCache = cache.NewRedisSettingsCache(client)
			closers = append(closers, client.Close)
			zl.Info("redis: held orders, stock locks, settings cache")
		}
	}

	loader := cache.NewLoader(
		repo,
		settingsCache,
		time.Duration(cfg.SettingsCacheTTLSeconds)*time.Second,
		domain.TenantSettings{TaxRate: cfg.DefaultTaxRate, MaxOrders: cfg.DefaultMaxOrders},
		zl,
	)
	m := metrics.New()
	policy := pos.ParseStockPolicy(cfg.StockPolicy)
	engine := pos.NewEngine(pos.Options{
		Repository:  repo,
		HeldOrders:  held,
		Locker:      locker,
		Settings:    loader,
		Logger:      zl.Named("pos"),
		Metrics:     m,
		StockPolicy: policy,
	})
	svc := service.New(repo, engine, loader, zl.Named("service"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, m, zl.Named("http"), cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("stock_policy", string(policy)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zl.Error("close error", zap.Error(err))
		}
	}

	zl.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("POS_AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("POS_MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("POS_MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

var weakPINs = map[string]bool{
	"123456": true, "654321": true, "121212": true, "112233": true,
	"123123": true, "696969": true, "159753": true, "147258": true,
}

// validatePINStrength rejects repeated digits, straight runs and a short
// list of PINs people pick first.
func validatePINStrength(pin string) error {
	if weakPINs[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
		}
		step := int(pin[i]) - int(pin[i-1])
		if step != 1 {
			ascending = false
		}
		if step != -1 {
			descending = false
		}
	}
	switch {
	case repeated:
		return fmt.Errorf("all-same-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
