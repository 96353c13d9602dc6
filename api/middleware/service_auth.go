package middleware

import (
	"net/http"
	"strings"

	"github.com/corecastapp/corecast-backend/api/responses"
	pkgauth "github.com/corecastapp/corecast-backend/pkg/auth"
	"github.com/corecastapp/corecast-backend/pkg/config"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

// ServiceAuth validates a service-to-service bearer token and seeds the
// request context with the caller's service name.
func ServiceAuth(cfg config.ServiceAuthConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithServiceName(r.Context(), claims.ServiceName)
			if logg != nil {
				ctx = logg.WithField(ctx, "caller_service", claims.ServiceName)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
