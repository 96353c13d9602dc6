package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corecastapp/corecast-backend/internal/jobs"
	"github.com/corecastapp/corecast-backend/internal/njord"
	"github.com/corecastapp/corecast-backend/pkg/config"
	"github.com/corecastapp/corecast-backend/pkg/db"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/metrics"
	"github.com/corecastapp/corecast-backend/pkg/pubsub"
	"github.com/corecastapp/corecast-backend/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	reconMetrics := metrics.NewReconciliationMetrics(prometheus.NewRegistry())

	njordClient, err := njord.NewClient(cfg.Njord, logg)
	if err != nil {
		logg.Error(ctx, "failed to create njord client", err)
		os.Exit(1)
	}

	jobRepo := jobs.NewRepository(dbClient.DB())

	jobService, err := jobs.NewService(jobs.ServiceParams{
		Logger:    logg,
		Repo:      jobRepo,
		Publisher: jobs.NewPubSubPublisher(pubsubClient.JobsPublisher()),
	})
	if err != nil {
		logg.Error(ctx, "failed to create jobs service", err)
		os.Exit(1)
	}

	engine, err := jobs.NewEngine(jobs.EngineParams{
		Logger:  logg,
		Repo:    jobRepo,
		Metrics: reconMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create job engine", err)
		os.Exit(1)
	}
	if err := engine.Register(enums.JobTypeCoreBalanceLookup, jobs.NewBalanceLookupHandler(njordClient)); err != nil {
		logg.Error(ctx, "failed to register balance lookup handler", err)
		os.Exit(1)
	}
	if err := engine.Register(enums.JobTypeCoreBalanceBatch, jobs.NewBalanceBatchHandler(jobService)); err != nil {
		logg.Error(ctx, "failed to register balance batch handler", err)
		os.Exit(1)
	}

	consumer, err := jobs.NewConsumer(engine, pubsubClient.JobsSubscription(), logg)
	if err != nil {
		logg.Error(ctx, "failed to create jobs consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		Redis:        redisClient,
		PubSub:       pubsubClient,
		JobsConsumer: consumer,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}
	defer func() {
		if err := service.Close(); err != nil {
			logg.Error(context.Background(), "error closing worker dependencies", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting worker")
	if err := service.Run(ctx); err != nil && err != context.Canceled {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shut down gracefully")
}
