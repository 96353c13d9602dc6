package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/pkg/logger"
)

// Consumer pulls job execution requests off the queue and hands them to the
// engine. Malformed messages are acked and dropped; engine failures nack so
// the request redelivers.
type Consumer struct {
	engine       *Engine
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer builds a job execution consumer.
func NewConsumer(engine *Engine, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if engine == nil {
		return nil, fmt.Errorf("job engine required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("jobs subscription required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		engine:       engine,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	var request ExecutionRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		c.logg.Error(logCtx, "failed to decode execution request", err)
		return true
	}
	jobID, err := uuid.Parse(request.JobID)
	if err != nil {
		c.logg.Error(logCtx, "invalid job id", err)
		return true
	}

	if err := c.engine.Execute(ctx, jobID); err != nil {
		c.logg.Error(c.logg.WithJobID(logCtx, jobID.String()), "job execution failed", err)
		return false
	}
	return true
}
