package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mealmesh/ordering-backend/api/controllers"
	"github.com/mealmesh/ordering-backend/api/routes"
	"github.com/mealmesh/ordering-backend/internal/collab"
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

const shutdownGrace = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	viewRepo := orderview.NewRepository(conn)
	projection := orderview.NewProjection(viewRepo, logg)

	store := eventstore.New(conn, outboxService, cfg.PubSub.OrderEventsTopic, logg)
	store.Register(projection)

	orderService := order.NewService(store, dbClient, cfg.Saga, logg)
	viewService := orderview.NewService(viewRepo, projection, store, dbClient, logg)

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

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, readiness, orchestrator, orderService, viewService),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
