package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mealmesh/ordering-backend/internal/collab"
	"github.com/mealmesh/ordering-backend/internal/courier"
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
	"github.com/mealmesh/ordering-backend/pkg/outbox/idempotency"
	"github.com/mealmesh/ordering-backend/pkg/pubsub"
	"github.com/mealmesh/ordering-backend/pkg/redis"
)

// The worker hosts the two message-driven sides of the saga: the courier
// worker consumes assign/release commands, and the reply consumer feeds
// courier replies back into the orchestrator.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	err = migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	store := eventstore.New(conn, outboxService, cfg.PubSub.OrderEventsTopic, logg)
	store.Register(orderview.NewProjection(orderview.NewRepository(conn), logg))
	orderService := order.NewService(store, dbClient, cfg.Saga, logg)

	consumerClient, err := collab.NewConsumerClient(cfg.Collaborators, logg)
	requireResource(ctx, logg, "consumer service client", err)
	restaurantClient, err := collab.NewRestaurantClient(cfg.Collaborators, logg)
	requireResource(ctx, logg, "restaurant service client", err)

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

	replyGuard, err := idempotency.NewManager(redisClient, cfg.Courier.IdempotencyTTL)
	requireResource(ctx, logg, "reply idempotency guard", err)
	replyConsumer, err := saga.NewReplyConsumer(orchestrator, replyGuard, pubsubClient.SagaRepliesSubscription(), logg)
	requireResource(ctx, logg, "saga reply consumer", err)

	replySender, err := courier.NewPubSubReplySender(pubsubClient.SagaRepliesPublisher())
	requireResource(ctx, logg, "courier reply sender", err)
	commandGuard, err := idempotency.NewManager(redisClient, cfg.Courier.IdempotencyTTL)
	requireResource(ctx, logg, "courier idempotency guard", err)
	courierWorker, err := courier.NewWorker(
		courier.NewStaticFleet(staticFleetIDs(cfg.Courier.FleetSize)),
		replySender,
		commandGuard,
		pubsubClient.CourierCommandsSubscription(),
		logg,
	)
	requireResource(ctx, logg, "courier worker", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
		"fleet_size":  cfg.Courier.FleetSize,
	})
	logg.Info(runCtx, "worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return courierWorker.Run(groupCtx)
	})
	group.Go(func() error {
		return replyConsumer.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "worker shutting down gracefully")
}

func staticFleetIDs(size int) []uuid.UUID {
	if size <= 0 {
		size = 1
	}
	ids := make([]uuid.UUID, size)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
