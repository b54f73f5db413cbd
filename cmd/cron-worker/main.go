package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bamelis/regrelay/internal/cron"
	"github.com/bamelis/regrelay/internal/delivery"
	"github.com/bamelis/regrelay/internal/events"
	"github.com/bamelis/regrelay/pkg/config"
	"github.com/bamelis/regrelay/pkg/db"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/metrics"
	"github.com/bamelis/regrelay/pkg/migrate"
	"github.com/bamelis/regrelay/pkg/pubsub"
	"github.com/bamelis/regrelay/pkg/redis"
)

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

	legacyProducer, err := delivery.NewLegacyProducer(pubsubClient.LegacyPublisher(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create legacy producer", err)
		os.Exit(1)
	}
	changePublisher, err := delivery.NewChangePublisher(pubsubClient.ChangePublisher(), cfg.Publish.MaxAttempts, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create change publisher", err)
		os.Exit(1)
	}

	transferJob, err := cron.NewTransferJob(cron.TransferJobParams{
		Logger:          logg,
		Repository:      repository,
		Sender:          legacyProducer,
		Destination:     cfg.Transfer.Destination,
		DebounceMinutes: cfg.Transfer.DebounceMinutes,
		MaxBatchSize:    cfg.Transfer.MaxBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transfer job", err)
		os.Exit(1)
	}
	publishJob, err := cron.NewPublishJob(cron.PublishJobParams{
		Logger:         logg,
		Repository:     repository,
		Publisher:      changePublisher,
		MaxBatchSize:   cfg.Publish.MaxBatchSize,
		ReceivedGrace:  cfg.Publish.ReceivedGrace,
		PublishedGrace: cfg.Publish.PublishedGrace,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create publish job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:        logg,
		Repository:    repository,
		RetentionDays: cfg.Retention.Days,
		ChunkSize:     cfg.Retention.ChunkSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	transferLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(transferJob.Name()), cfg.Transfer.LockMinHold, cfg.Transfer.LockMaxHold)
	if err != nil {
		logg.Error(context.Background(), "failed to create transfer lock", err)
		os.Exit(1)
	}
	publishLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(publishJob.Name()), cfg.Publish.LockMinHold, cfg.Publish.LockMaxHold)
	if err != nil {
		logg.Error(context.Background(), "failed to create publish lock", err)
		os.Exit(1)
	}
	retentionLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(retentionJob.Name()), cfg.Retention.LockMinHold, cfg.Retention.LockMaxHold)
	if err != nil {
		logg.Error(context.Background(), "failed to create retention lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(
		cron.Schedule{Job: transferJob, Interval: cfg.Transfer.Interval, Lock: transferLock},
		cron.Schedule{Job: publishJob, Interval: cfg.Publish.Interval, Lock: publishLock},
		cron.Schedule{Job: retentionJob, Interval: cfg.Retention.Interval, Lock: retentionLock},
	)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
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
