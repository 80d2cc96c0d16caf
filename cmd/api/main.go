package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/api"
	"github.com/punchamoorthee/transferledger/internal/config"
	"github.com/punchamoorthee/transferledger/internal/idempotency"
	"github.com/punchamoorthee/transferledger/internal/ledger"
	"github.com/punchamoorthee/transferledger/internal/logging"
	"github.com/punchamoorthee/transferledger/internal/service"
	"github.com/punchamoorthee/transferledger/internal/store"
	"github.com/punchamoorthee/transferledger/internal/store/memory"
	"github.com/punchamoorthee/transferledger/internal/store/mysql"
	"github.com/punchamoorthee/transferledger/internal/store/postgres"
	"github.com/punchamoorthee/transferledger/internal/wal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	accountStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("unable to open account store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer accountStore.Close()

	idem, closeIdem := openIdempotency(ctx, cfg, logger)
	defer closeIdem()

	// Initialize Layers
	transferLedger := ledger.New(accountStore, ledger.Config{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		TxTimeout:   cfg.Ledger.TxTimeout,
		RetryBase:   cfg.Ledger.RetryBase,
	}, logger.Named("ledger"))
	svc := service.NewTransferService(transferLedger, idem, logger.Named("service"))
	handler := api.NewHandler(svc, logger.Named("api"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, logger.Named("http"), cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.AccountStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		s, err := mysql.NewStore(cfg.MySQL, logger.Named("mysql"))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		opts := []memory.Option{memory.WithLogger(logger.Named("memory"))}
		if cfg.Store.WALPath != "" {
			w, err := wal.Open(cfg.Store.WALPath)
			if err != nil {
				return nil, err
			}
			opts = append(opts, memory.WithWAL(w))
		}
		return memory.New(opts...)
	default:
		s, err := postgres.NewStore(ctx, cfg.Store.DSN, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

func openIdempotency(ctx context.Context, cfg *config.Config, logger *zap.Logger) (idempotency.Store, func()) {
	if cfg.Redis.Addr == "" {
		return idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("unable to reach redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	return idempotency.NewRedisStore(client, cfg.Redis.IdempotencyTTL), func() { client.Close() }
}
