package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/credauth/config"
	"github.com/wuwenbin0122/credauth/internal/api"
	"github.com/wuwenbin0122/credauth/internal/auth"
	"github.com/wuwenbin0122/credauth/internal/db"
	"github.com/wuwenbin0122/credauth/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	store, pinger, closeStore := openUserStore(ctx, cfg, logger)
	defer closeStore()

	limiter, closeLimiter := openLimiter(ctx, cfg, logger)
	defer closeLimiter()

	authorizer, err := auth.NewAuthorizer(store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), logger, auth.Options{
		EqualizeTiming: cfg.Auth.EqualizeTiming,
	})
	if err != nil {
		logger.Fatal("failed to initialise authorizer", zap.Error(err))
	}

	router, err := api.NewRouter(api.NewHandler(authorizer, limiter, pinger, logger), logger, cfg.TrustedProxies)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

func openUserStore(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (auth.UserStore, api.Pinger, func()) {
	foldCase := cfg.Auth.FoldEmailCase()

	if cfg.UserStore == utils.StoreMongo {
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			logger.Fatal("mongo: failed to connect", zap.Error(err))
		}
		if err := mongoStore.Ping(ctx); err != nil {
			logger.Fatal("mongo: ping failed", zap.Error(err))
		}
		if err := mongoStore.EnsureCollections(ctx, foldCase); err != nil {
			logger.Fatal("mongo: ensure collections", zap.Error(err))
		}
		closeFn := func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warn("mongo: close error", zap.Error(err))
			}
		}
		return db.NewMongoUsers(mongoStore, foldCase), mongoStore, closeFn
	}

	postgres, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("postgres: failed to connect", zap.Error(err))
	}
	if err := postgres.Ping(ctx); err != nil {
		logger.Fatal("postgres: ping failed", zap.Error(err))
	}
	if err := postgres.Migrate(ctx); err != nil {
		logger.Fatal("postgres: migrate", zap.Error(err))
	}
	return db.NewPostgresUsers(postgres, foldCase), postgres, postgres.Close
}

func openLimiter(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (auth.AttemptLimiter, func()) {
	policy := auth.AttemptPolicy{
		MaxAttempts:  cfg.Auth.MaxAttempts,
		Window:       cfg.Auth.AttemptWindow,
		LockDuration: cfg.Auth.LockDuration,
	}

	if cfg.Redis.Addr == "" {
		return auth.NewMemoryLimiter(policy), func() {}
	}

	client, err := db.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("redis: failed to connect", zap.Error(err))
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis: close error", zap.Error(err))
		}
	}
	return auth.NewRedisLimiter(client, cfg.Redis.KeyPrefix, policy), closeFn
}
