package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ctxServiceName contextKey = "service_name"

// ServiceNameFromContext returns the authenticated caller's service name.
func ServiceNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxServiceName).(string); ok {
		return v
	}
	return ""
}

// WithServiceName injects the caller's service name into the context.
func WithServiceName(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxServiceName, name)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
