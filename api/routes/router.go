package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corecastapp/corecast-backend/api/controllers"
	webhookcontrollers "github.com/corecastapp/corecast-backend/api/controllers/webhooks"
	"github.com/corecastapp/corecast-backend/api/middleware"
	"github.com/corecastapp/corecast-backend/internal/jobs"
	"github.com/corecastapp/corecast-backend/internal/transactions"
	"github.com/corecastapp/corecast-backend/pkg/config"
	"github.com/corecastapp/corecast-backend/pkg/db"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/redis"
)

// Pinger is the readiness surface shared by the wired clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Redis        redis.Pinger
	PubSub       Pinger
	Transactions *transactions.Service
	WebhookGuard *transactions.WebhookGuard
	Jobs         *jobs.Service
	Registry     prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.Dependency{Name: "database", Pinger: params.DB},
			controllers.Dependency{Name: "redis", Pinger: params.Redis},
			controllers.Dependency{Name: "pubsub", Pinger: params.PubSub},
		))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paddle", webhookcontrollers.PaddleWebhook(params.Transactions, params.WebhookGuard, logg))
	})

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.ServiceAuth, logg))
		r.Post("/", controllers.JobCreate(params.Jobs, logg))
		r.Get("/{jobID}/status", controllers.JobStatus(params.Jobs, logg))
		r.Get("/{jobID}/batch-status", controllers.JobBatchStatus(params.Jobs, logg))
	})

	return r
}
