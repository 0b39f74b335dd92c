package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smm-store/internal/auth"
	"smm-store/internal/cache"
	"smm-store/internal/config"
	"smm-store/internal/httpserver"
	"smm-store/internal/ledger"
	"smm-store/internal/logging"
	"smm-store/internal/metrics"
	"smm-store/internal/provider"
	"smm-store/internal/repo"
	"smm-store/internal/store"
	"smm-store/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting smm-store", "env", cfg.AppEnv, "store_backend", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	st := store.New(backend, logger, metricRegistry)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed closing store", "error", err)
		}
	}()
	st.Init(ctx)

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	if cfg.SMMAPIKey == "" {
		logger.Warn("SMM_API_KEY is not set, upstream calls will fail")
	}
	panel := provider.New(provider.Config{
		BaseURL: cfg.SMMAPIURL,
		APIKey:  cfg.SMMAPIKey,
		Timeout: cfg.SMMTimeout,
	}, logger, metricRegistry)

	ledgerSvc := ledger.New(st, panel, redisClient, ledger.Options{
		CatalogTTL: cfg.CatalogCacheTTL,
	}, logger, metricRegistry)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, admin routes are unreachable")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Store:       st,
		Ledger:      ledgerSvc,
		Provisioner: auth.NewProvisioner(st, logger),
		Admin:       auth.NewAdmin(cfg.AdminToken, cfg.AdminEmails),
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendBolt:
		b, err := repo.NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return b, nil
	case config.BackendSQLite:
		b, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := b.RunMigrations(ctx, migrations.SQLite()); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("run sqlite migrations: %w", err)
		}
		logger.Info("database migrated", "backend", cfg.StoreBackend)
		return b, nil
	case config.BackendPostgres:
		b, err := repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := b.RunMigrations(ctx, migrations.Postgres()); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		logger.Info("database migrated", "backend", cfg.StoreBackend)
		return b, nil
	default:
		return repo.NewFile(cfg.DataDir), nil
	}
}
