package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mealmesh/ordering-backend/internal/collab"
	"github.com/mealmesh/ordering-backend/internal/cron"
	"github.com/mealmesh/ordering-backend/internal/eventstore"
	"github.com/mealmesh/ordering-backend/internal/order"
	"github.com/mealmesh/ordering-backend/internal/orderview"
	"github.com/mealmesh/ordering-backend/internal/saga"
	"github.com/mealmesh/ordering-backend/pkg/config"
	"github.com/mealmesh/ordering-backend/pkg/db"
	"github.com/mealmesh/ordering-backend/pkg/logger"
	"github.com/mealmesh/ordering-backend/pkg/metrics"
	"github.com/mealmesh/ordering-backend/pkg/migrate"
	"github.com/mealmesh/ordering-backend/pkg/outbox"
	"github.com/mealmesh/ordering-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	store := eventstore.New(conn, outboxService, cfg.PubSub.OrderEventsTopic, logg)
	store.Register(orderview.NewProjection(orderview.NewRepository(conn), logg))
	orderService := order.NewService(store, dbClient, cfg.Saga, logg)

	consumerClient, err := collab.NewConsumerClient(cfg.Collaborators, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create consumer service client", err)
		os.Exit(1)
	}
	restaurantClient, err := collab.NewRestaurantClient(cfg.Collaborators, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create restaurant service client", err)
		os.Exit(1)
	}

	orchestrator := saga.NewOrchestrator(
		saga.NewRepository(conn),
		dbClient,
		consumerClient,
		restaurantClient,
		orderService,
		outboxService,
		cfg.PubSub.CourierCommandsTopic,
		cfg.Saga,
		metrics.NewSagaMetrics(prometheus.DefaultRegisterer),
		logg,
	)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(conn),
		RetentionDays: cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	timeoutJob, err := cron.NewSagaTimeoutJob(cron.SagaTimeoutJobParams{
		Logger:       logg,
		Orchestrator: orchestrator,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create saga timeout job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(timeoutJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("%s:%s", lockName, env)
}
