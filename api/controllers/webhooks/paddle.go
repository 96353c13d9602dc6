package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/corecastapp/corecast-backend/api/responses"
	"github.com/corecastapp/corecast-backend/internal/paddle"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

type PaddleWebhookService interface {
	HandleCreated(ctx context.Context, event paddle.WebhookEvent) error
	HandleUpdated(ctx context.Context, event paddle.WebhookEvent) error
	HandlePaid(ctx context.Context, event paddle.WebhookEvent) error
	HandlePaymentFailed(ctx context.Context, event paddle.WebhookEvent) error
	HandleCompleted(ctx context.Context, event paddle.WebhookEvent) error
}

type paddleWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaddleWebhook handles Paddle transaction lifecycle events. Signature
// verification happens at the gateway; this handler sees verified payloads.
func PaddleWebhook(svc PaddleWebhookService, guard paddleWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var event paddle.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload"))
			return
		}
		if event.EventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required"))
			return
		}
		event.Raw = payload

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := dispatch(ctx, svc, event); err != nil {
			// Release the mark so the provider's retry is not silently
			// swallowed by the boundary dedup.
			_ = guard.Delete(ctx, event.EventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("paddle event %s processed", event.EventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func dispatch(ctx context.Context, svc PaddleWebhookService, event paddle.WebhookEvent) error {
	switch event.EventType {
	case paddle.EventTransactionCreated:
		return svc.HandleCreated(ctx, event)
	case paddle.EventTransactionUpdated:
		return svc.HandleUpdated(ctx, event)
	case paddle.EventTransactionPaid:
		return svc.HandlePaid(ctx, event)
	case paddle.EventTransactionPaymentFailed:
		return svc.HandlePaymentFailed(ctx, event)
	case paddle.EventTransactionCompleted:
		return svc.HandleCompleted(ctx, event)
	default:
		// Unsubscribed event types are acknowledged and dropped.
		return nil
	}
}
