package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/velvetwardrobe/storefront/internal/di"
	"github.com/velvetwardrobe/storefront/internal/handlers"
	"github.com/velvetwardrobe/storefront/internal/platform/config"
	"github.com/velvetwardrobe/storefront/internal/platform/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	logger.Info("storage ready",
		zap.String("driver", cfg.Storage.Driver),
		zap.String("consistency", cfg.Cart.Consistency),
		zap.String("registration", cfg.Registration.BaseURL),
	)

	var relayWG sync.WaitGroup
	if container.Relay != nil {
		relayWG.Add(1)
		go func() {
			defer relayWG.Done()
			relayLogger := logger.Named("changefeed")
			relayLogger.Info("change feed relay started", zap.String("subscription", cfg.ChangeFeed.Subscription))
			if err := container.Relay.Run(ctx); err != nil {
				relayLogger.Error("change feed relay stopped", zap.Error(err))
			}
		}()
	}

	httpLogger := logger.Named("http")
	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(httpLogger),
		container.Sessions.Middleware,
		observability.RequestLoggerMiddleware(),
		container.Metrics.HTTPMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthRepository(container.Health),
	)
	cartHandlers := handlers.NewCartHandlers(container.Services.Cart, container.Services.Watcher)
	formHandlers := handlers.NewFormHandlers(container.Services.Forms)
	utilityHandlers := handlers.NewUtilityHandlers(container.Services.Search, container.Registration)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(container.Metrics.Handler()),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithFormRoutes(formHandlers.Routes),
		handlers.WithAdditionalRoutes(utilityHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("velvetwardrobe storefront listening")
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

	settled := make(chan struct{})
	go func() {
		container.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-shutdownCtx.Done():
		logger.Warn("registration attempts still in flight at shutdown")
	}

	relayWG.Wait()
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("STOREFRONT_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.ChangeFeed.ProjectID); id != "" {
		return id
	}
	if id := strings.TrimSpace(cfg.Storage.FirestoreProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
}
