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

	"partsdesk/internal/cache"
	"partsdesk/internal/config"
	"partsdesk/internal/httpapi"
	"partsdesk/internal/logging"
	"partsdesk/internal/service"
	"partsdesk/internal/store"
	"partsdesk/internal/store/memory"
	pgstore "partsdesk/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	searchCache, closeCache := openSearchCache(ctx, cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	svc := service.New(repo, searchCache, time.Duration(cfg.SearchCacheTTLSeconds)*time.Second, cfg.LowStockThreshold, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	go func() {
		logger.Info("transaction service listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository picks Postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is an error.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

// openSearchCache returns the Redis cache when it answers a ping and the noop
// cache otherwise.
func openSearchCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.ProductSearchCache, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("cache: noop")
		return cache.NoopProductSearchCache{}, nil
	}

	redisCache := cache.NewRedisProductSearchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopProductSearchCache{}, nil
	}
	logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative")
	}
	return nil
}
