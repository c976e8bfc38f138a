/**
 * @description
 * This is the main entry point for the scheduler-service.
 * It runs the recurring billing cycle and the webhook retry cycle on their cron
 * schedules and exposes a small internal HTTP surface for health and manual runs.
 */
package main

import (
	"context"
	"errors"
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
	"github.com/subpay/scheduler-service/internal/api"
	"github.com/subpay/scheduler-service/internal/app"
	"github.com/subpay/scheduler-service/internal/config"
	"github.com/subpay/scheduler-service/internal/store"
	"github.com/subpay/scheduler-service/pkg/chainclient"
	"github.com/subpay/scheduler-service/pkg/rabbitmq"
	"github.com/subpay/scheduler-service/pkg/webhookclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	backoff, err := cfg.WebhookBackoff()
	if err != nil {
		logger.Error("invalid webhook backoff table", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewRepository(dbpool)
	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema applied")
	}

	var producer rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, outcome events will not be published", "error", err)
		} else {
			producer = mq
			logger.Info("RabbitMQ producer connected")
		}
	}
	defer producer.Close()

	var cycleLock app.CycleLock
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("unable to reach redis", "error", err)
			os.Exit(1)
		}
		cycleLock = app.NewRedisCycleLock(redisClient, "subpay:scheduler:lock", cfg.CycleLockTTL, logger)
		logger.Info("redis cycle lock enabled", "ttl", cfg.CycleLockTTL)
	}

	chargeClient := chainclient.NewClient(cfg.ChargeRelayerURL, cfg.ChargeRelayerAPIKey, cfg.ChargeConfirmTimeout, cfg.ChargePollInterval)
	webhookClient := webhookclient.NewClient(cfg.WebhookTimeout)

	dispatcher := app.NewWebhookDispatcher(repository, webhookClient, producer, logger, app.WebhookOptions{
		Policy:    app.WebhookRetryPolicy{MaxAttempts: cfg.WebhookMaxAttempts, Backoff: app.BackoffTable(backoff)},
		BatchSize: cfg.WebhookBatchSize,
		ItemDelay: cfg.WebhookItemDelay,
		Exchange:  cfg.EventsExchange,
	})
	billing := app.NewBillingCycle(repository, chargeClient, dispatcher, producer, logger, app.BillingOptions{
		Policy:    app.BillingRetryPolicy{MaxRetries: cfg.BillingMaxRetries, Delay: cfg.BillingRetryDelay},
		ItemDelay: cfg.BillingItemDelay,
		Exchange:  cfg.EventsExchange,
	})

	scheduler := app.NewScheduler(logger, cycleLock)
	if err := scheduler.Register(cfg.BillingSchedule(), billing); err != nil {
		logger.Error("failed to register billing cycle", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Register(cfg.WebhookRetrySchedule, dispatcher); err != nil {
		logger.Error("failed to register webhook retry cycle", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	handler := api.NewHandler(scheduler, repository, logger)
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.NewRouter(handler, cfg.InternalAPIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("scheduler stopped gracefully")
	case <-time.After(2 * time.Minute):
		logger.Warn("timed out waiting for in-flight cycles to finish")
	}
}
