package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corecastapp/corecast-backend/api/routes"
	"github.com/corecastapp/corecast-backend/internal/jobs"
	"github.com/corecastapp/corecast-backend/internal/njord"
	"github.com/corecastapp/corecast-backend/internal/paddle"
	"github.com/corecastapp/corecast-backend/internal/transactions"
	"github.com/corecastapp/corecast-backend/internal/users"
	"github.com/corecastapp/corecast-backend/pkg/config"
	"github.com/corecastapp/corecast-backend/pkg/db"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/metrics"
	"github.com/corecastapp/corecast-backend/pkg/migrate"
	"github.com/corecastapp/corecast-backend/pkg/pubsub"
	"github.com/corecastapp/corecast-backend/pkg/redis"
)

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

	registry := prometheus.NewRegistry()
	reconMetrics := metrics.NewReconciliationMetrics(registry)

	njordClient, err := njord.NewClient(cfg.Njord, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create njord client", err)
		os.Exit(1)
	}

	txService, err := transactions.NewService(transactions.ServiceParams{
		Logger:             logg,
		Metrics:            reconMetrics,
		TransactionRunner:  dbClient,
		Repo:               transactions.NewRepository(dbClient.DB()),
		Users:              users.NewRepository(dbClient.DB()),
		Njord:              njordClient,
		Paddle:             paddle.NewClient(cfg.Paddle),
		Publisher:          transactions.NewPubSubPublisher(pubsubClient.NotificationPublisher()),
		CheckoutConfirmURL: cfg.Paddle.CheckoutConfirmURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions service", err)
		os.Exit(1)
	}

	webhookGuard, err := transactions.NewWebhookGuard(redisClient, cfg.Webhook.DedupTTL, "paddle")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	jobService, err := jobs.NewService(jobs.ServiceParams{
		Logger:    logg,
		Repo:      jobs.NewRepository(dbClient.DB()),
		Publisher: jobs.NewPubSubPublisher(pubsubClient.JobsPublisher()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
		os.Exit(1)
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
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			PubSub:       pubsubClient,
			Transactions: txService,
			WebhookGuard: webhookGuard,
			Jobs:         jobService,
			Registry:     registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
