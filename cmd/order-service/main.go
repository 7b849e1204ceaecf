package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftea/order-system/order-service/config"
	"github.com/draftea/order-system/order-service/handlers"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	logger := deps.Logger

	if err := run(ctx, cfg, deps); err != nil {
		logger.Error("order service stopped with error", zap.Error(err))
		_ = deps.Close()
		os.Exit(1)
	}

	if err := deps.Close(); err != nil {
		log.Printf("Error closing dependencies: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, deps *config.Dependencies) error {
	logger := deps.Logger
	logger.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("transport", cfg.Outbox.Transport),
	)

	ctx = telemetry.WithTelemetry(ctx, deps.Telemetry)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return deps.Dispatcher.Run(ctx)
	})

	g.Go(func() error {
		if err := deps.EventSubscriber.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})

	// Stop intake before draining the outbox and closing the server
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", zap.String("service", cfg.ServiceName))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var firstErr error
		if err := deps.EventSubscriber.Stop(shutdownCtx); err != nil {
			logger.Warn("sqs subscriber did not stop cleanly", zap.Error(err))
			firstErr = err
		}
		if err := deps.Dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("outbox dispatcher did not stop cleanly", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server forced to shutdown", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("service stopped", zap.String("service", cfg.ServiceName))
	return nil
}

func setupRouter(deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// Telemetry middleware (inject telemetry into context)
	r.Use(telemetry.Middleware(deps.Telemetry))

	r.Get("/health", handlers.Health)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	deps.OrderSagaHandlers.RegisterRoutes(r)

	return r
}
