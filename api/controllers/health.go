package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/corecastapp/corecast-backend/api/responses"
	"github.com/corecastapp/corecast-backend/pkg/config"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

const readinessTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a pingable collaborator for the readiness check.
type Dependency struct {
	Name   string
	Pinger pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoreCast-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every wired dependency and reports per-dependency status.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoreCast-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		statuses := map[string]string{}
		healthy := true
		for _, dep := range deps {
			if dep.Pinger == nil {
				statuses[dep.Name] = "not configured"
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				healthy = false
				statuses[dep.Name] = "unavailable"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", dep.Name), "readiness ping failed", err)
				}
				continue
			}
			statuses[dep.Name] = "ok"
		}

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(statuses)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}
