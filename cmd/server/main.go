package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/zhejian/linkboard/internal/config"
	"github.com/zhejian/linkboard/internal/events"
	"github.com/zhejian/linkboard/internal/infra"
	"github.com/zhejian/linkboard/internal/migrations"
	"github.com/zhejian/linkboard/internal/observability"
	"github.com/zhejian/linkboard/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.App.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()
	logger := obs.Logger

	// Apply schema before the pool starts serving queries
	if cfg.Database.AutoMigrate {
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	db, err := infra.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	// Redis is optional; without it every resolve goes to Postgres
	var cache *redis.Client
	if cfg.Cache.URL != "" {
		cache, err = infra.NewCacheClient(ctx, cfg.Cache.URL)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", slog.String("error", err.Error()))
			cache = nil
		} else {
			defer cache.Close()
			logger.Info("cache connected", slog.Duration("ttl", cfg.Cache.TTL))
		}
	}

	// RabbitMQ is optional; events are dropped when it is not configured
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Broker.URL != "" {
		conn, err := infra.NewBrokerConnection(cfg.Broker.URL)
		if err != nil {
			logger.Warn("broker unavailable, link events disabled", slog.String("error", err.Error()))
		} else {
			defer conn.Close()
			amqpPublisher, err := events.NewAMQPPublisher(conn, cfg.Broker.Exchange)
			if err != nil {
				return err
			}
			publisher = amqpPublisher
			logger.Info("broker connected", slog.String("exchange", cfg.Broker.Exchange))
		}
	}
	defer publisher.Close()

	srv := server.NewServer(cfg, server.Deps{
		DB:        db,
		Cache:     cache,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   obs.MetricsHandler,
	})

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("base_url", cfg.App.BaseURL),
			slog.String("version", cfg.App.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	// Wait for interrupt signal (Ctrl+C or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}
