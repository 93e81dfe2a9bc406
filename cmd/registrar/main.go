package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/velvetwardrobe/storefront/internal/di"
	"github.com/velvetwardrobe/storefront/internal/platform/config"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/platform/observability"
	"github.com/velvetwardrobe/storefront/internal/registrar"
	"github.com/velvetwardrobe/storefront/internal/repositories/kvstore"
)

const (
	userNamespace   = "registrar"
	shutdownTimeout = 10 * time.Second
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("registrar")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := di.OpenStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	users, err := kvstore.NewUserRepository(kv.Namespaced(store, userNamespace))
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	svc, err := registrar.NewService(registrar.ServiceDeps{
		Users:  users,
		Clock:  time.Now,
		Logger: observability.EventLogger(logger),
	})
	if err != nil {
		logger.Fatal("failed to initialise registrar service", zap.Error(err))
	}

	httpLogger := logger.Named("http")
	router := registrar.NewRouter(svc,
		observability.InjectLoggerMiddleware(httpLogger),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Registrar.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("registrar listening", zap.String("driver", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
