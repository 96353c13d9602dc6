package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/metrics"
)

// ErrAwaitChildren is returned by a handler that spawned child jobs and wants
// the parent left RUNNING. Rollup finishes the parent once every child is
// terminal.
var ErrAwaitChildren = errors.New("awaiting child jobs")

// Handler executes one job. The returned payload is stored as the job result.
type Handler func(ctx context.Context, job *WorkerJob) (json.RawMessage, error)

// EngineParams configure the job execution engine.
type EngineParams struct {
	Logger  *logger.Logger
	Repo    Repository
	Metrics *metrics.ReconciliationMetrics
}

// Engine dispatches queued jobs to registered type handlers and drives the
// PENDING -> RUNNING -> terminal state machine, including parent rollup.
type Engine struct {
	logg     *logger.Logger
	repo     Repository
	metrics  *metrics.ReconciliationMetrics
	handlers map[enums.JobType]Handler
}

// NewEngine builds a job execution engine with no handlers registered.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job repo required")
	}
	return &Engine{
		logg:     params.Logger,
		repo:     params.Repo,
		metrics:  params.Metrics,
		handlers: map[enums.JobType]Handler{},
	}, nil
}

// Register binds a handler to a job type. Call during wiring, before Execute
// runs; the map is not guarded for concurrent mutation.
func (e *Engine) Register(jobType enums.JobType, handler Handler) error {
	if handler == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "handler required")
	}
	if _, exists := e.handlers[jobType]; exists {
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("handler already registered for %s", jobType))
	}
	e.handlers[jobType] = handler
	return nil
}

// Execute runs a single job by id. Duplicate execution requests are no-ops:
// a missing job, a job past PENDING, or a lost claim race all return nil
// without touching anything.
func (e *Engine) Execute(ctx context.Context, jobID uuid.UUID) error {
	ctx = e.logg.WithJobID(ctx, jobID.String())

	job, err := e.repo.FindByID(ctx, jobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	if job == nil {
		e.logg.Warn(ctx, "job not found")
		return nil
	}
	ctx = e.logg.WithField(ctx, "job_type", job.Type.String())

	if job.Status != enums.JobStatusPending {
		e.logg.Info(e.logg.WithField(ctx, "status", job.Status.String()), "job not pending; skipping")
		return nil
	}

	handler, ok := e.handlers[job.Type]
	if !ok {
		message := fmt.Sprintf("No handler for job type: %s", job.Type)
		if err := e.repo.MarkFailed(ctx, job.ID, message, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job failed")
		}
		e.logg.Error(ctx, "job failed", errors.New(message))
		e.metrics.IncJobOutcome(job.Type.String(), enums.JobStatusFailed.String())
		return e.rollup(ctx, job.ParentID)
	}

	claimed, err := e.repo.MarkRunning(ctx, job.ID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim job")
	}
	if !claimed {
		e.logg.Info(ctx, "job claimed elsewhere; skipping")
		return nil
	}

	start := time.Now()
	result, handlerErr := handler(ctx, job)
	e.metrics.ObserveJob(job.Type.String(), time.Since(start))

	if errors.Is(handlerErr, ErrAwaitChildren) {
		// The handler fanned out children; rollup finishes this job.
		e.logg.Info(ctx, "job awaiting children")
		return nil
	}

	if handlerErr != nil {
		if err := e.repo.MarkFailed(ctx, job.ID, handlerErr.Error(), time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job failed")
		}
		e.logg.Error(ctx, "job failed", handlerErr)
		e.metrics.IncJobOutcome(job.Type.String(), enums.JobStatusFailed.String())
		return e.rollup(ctx, job.ParentID)
	}

	if err := e.repo.MarkCompleted(ctx, job.ID, result, time.Now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark job completed")
	}
	e.logg.Info(ctx, "job completed")
	e.metrics.IncJobOutcome(job.Type.String(), enums.JobStatusCompleted.String())
	return e.rollup(ctx, job.ParentID)
}

// rollup recounts the parent's children after a terminal transition. The
// recount runs on every completion rather than being cached; concurrent
// siblings may each run it and the conditional finalize keeps that safe.
func (e *Engine) rollup(ctx context.Context, parentID *uuid.UUID) error {
	if parentID == nil {
		return nil
	}
	ctx = e.logg.WithField(ctx, "parent_id", parentID.String())

	counts, err := e.repo.CountChildrenByStatus(ctx, *parentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count children")
	}
	if counts[enums.JobStatusPending] > 0 || counts[enums.JobStatusRunning] > 0 {
		return nil
	}

	status := enums.JobStatusCompleted
	if counts[enums.JobStatusFailed] > 0 {
		status = enums.JobStatusFailed
	}

	finalized, err := e.repo.FinalizeParent(ctx, *parentID, status, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize parent")
	}
	if finalized {
		e.logg.Info(e.logg.WithField(ctx, "status", status.String()), "parent job rolled up")
	}
	return nil
}
