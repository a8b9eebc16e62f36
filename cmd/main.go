/**
 * @description
 * This is the main entry point for the stats service: a long-running
 * process that polls marketplace accounts on cron ticks and serves the
 * read-only report API. It initializes the configuration, database and
 * redis connections, the event producer, the cron scheduler, and the HTTP
 * server, then waits for a termination signal.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/stats-service/internal/api"
	"github.com/sellerpulse/stats-service/internal/app"
	"github.com/sellerpulse/stats-service/internal/config"
	"github.com/sellerpulse/stats-service/internal/store"
	"github.com/sellerpulse/stats-service/pkg/marketclient"
	"github.com/sellerpulse/stats-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env for local development; in production the variables come
	// from the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the item-list cache; the service degrades to uncached
	// polling when it is not configured.
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		logger.Info("redis connection configured")
	} else {
		logger.Warn("REDIS_URL not set, item cache disabled")
	}

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, "stats.events")
	if err != nil {
		logger.Error("unable to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	logger.Info("rabbitmq producer ready")

	// Initialize dependencies
	repository := store.NewRepository(dbpool)
	client := marketclient.NewClient(cfg.MarketplaceBaseURL, time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
	source := app.NewMarketSource(client)
	itemCache := app.NewRedisItemCache(redisClient, "sellerpulse:items", time.Duration(cfg.ItemCacheTTLSeconds)*time.Second)
	builder := app.NewSnapshotBuilder(source, repository, itemCache, logger)
	backfill := app.NewBackfill(builder, repository, time.Duration(cfg.BackfillDelayMillis)*time.Millisecond, logger)
	accumulator := app.NewExpenseAccumulator(logger)
	jobs := app.NewJobs(repository, source, producer, builder, backfill, accumulator, logger, *cfg)
	scheduler := app.NewScheduler(jobs, logger, *cfg)

	// Start the cron scheduler in the background
	scheduler.Start()
	logger.Info("scheduler started")

	// Start the read API
	service := app.NewService(repository)
	handler := api.NewHandler(service)
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: api.NewRouter(handler),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for a termination signal or a server failure. Both paths fall
	// through to the same graceful shutdown so the deferred pool, producer,
	// and redis closes always run.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received, stopping")
	case err := <-serverErrCh:
		logger.Error("http server failed, stopping", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for running jobs to finish
	logger.Info("scheduler stopped gracefully")
}
