package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bamelis/regrelay/internal/events"
	"github.com/bamelis/regrelay/internal/intake"
	"github.com/bamelis/regrelay/pkg/config"
	"github.com/bamelis/regrelay/pkg/db"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/metrics"
	"github.com/bamelis/regrelay/pkg/migrate"
	"github.com/bamelis/regrelay/pkg/pubsub"
	"github.com/bamelis/regrelay/pkg/redis"
	"github.com/bamelis/regrelay/pkg/types"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	repository := events.NewRepository(dbClient.DB(), logg)

	processor, err := intake.NewProcessor(repository, logg, metrics.NewIntakeMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(context.Background(), "failed to create intake processor", err)
		os.Exit(1)
	}

	lifeEventConsumer, err := intake.NewConsumer(processor, pubsubClient.LifeEventSubscription(), decodeLifeEvent, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create life event consumer", err)
		os.Exit(1)
	}
	accountChangeConsumer, err := intake.NewAccountChangeConsumer(repository, pubsubClient.AccountChangeSubscription(), decodeAccountChange, nil, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create account change consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:                cfg,
		Logger:                logg,
		DB:                    dbClient,
		Redis:                 redisClient,
		PubSub:                pubsubClient,
		LifeEventConsumer:     lifeEventConsumer,
		AccountChangeConsumer: accountChangeConsumer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func decodeLifeEvent(data []byte) (types.LifeEvent, error) {
	var event types.LifeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return types.LifeEvent{}, err
	}
	return event, nil
}

func decodeAccountChange(data []byte) (types.AccountChangeNotification, error) {
	var notification types.AccountChangeNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return types.AccountChangeNotification{}, err
	}
	return notification, nil
}
