package jobs

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type requestPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

// ExecutionRequest is the queue message asking a worker to run one job.
type ExecutionRequest struct {
	JobID string `json:"job_id"`
}

// CreateJobParams describe a job to enqueue.
type CreateJobParams struct {
	Type     enums.JobType
	Input    json.RawMessage
	ParentID *uuid.UUID
}

// JobStatusResult is the service-to-service view of a single job.
type JobStatusResult struct {
	JobID       string     `json:"job_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// BatchStatusResult aggregates the direct children of a parent job.
type BatchStatusResult struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Pending   int64  `json:"pending"`
	Running   int64  `json:"running"`
}

type ServiceParams struct {
	Logger    *logger.Logger
	Repo      Repository
	Publisher requestPublisher
}

// Service creates jobs and answers the job status RPC.
type Service struct {
	logg      *logger.Logger
	repo      Repository
	publisher requestPublisher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job repo required")
	}
	return &Service{
		logg:      params.Logger,
		repo:      params.Repo,
		publisher: params.Publisher,
	}, nil
}

// CreateJob persists a PENDING job and enqueues its execution request.
func (s *Service) CreateJob(ctx context.Context, params CreateJobParams) (*WorkerJob, error) {
	if params.Type == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job type is required")
	}
	job := &WorkerJob{
		ParentID: params.ParentID,
		Type:     params.Type,
		Status:   enums.JobStatusPending,
		Input:    params.Input,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create job")
	}
	if err := s.enqueue(ctx, job.ID); err != nil {
		// The row exists; a stuck PENDING job is recoverable by re-enqueueing.
		s.logg.Error(s.logg.WithJobID(ctx, job.ID.String()), "enqueue job execution", err)
	}
	return job, nil
}

func (s *Service) enqueue(ctx context.Context, jobID uuid.UUID) error {
	if s.publisher == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "job publisher not configured")
	}
	payload, err := json.Marshal(ExecutionRequest{JobID: jobID.String()})
	if err != nil {
		return err
	}
	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": string(enums.EventJobExecutionRequested),
		},
	})
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "job publisher returned nil")
	}
	_, err = result.Get(ctx)
	return err
}

// GetJobStatus returns the status view of a single job.
func (s *Service) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusResult, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	if job == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}
	return &JobStatusResult{
		JobID:       job.ID.String(),
		Type:        job.Type.String(),
		Status:      job.Status.String(),
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.Error,
	}, nil
}

// GetBatchStatus aggregates the direct children of a parent job by status.
// Purely a read; rollup is the only writer of parent status.
func (s *Service) GetBatchStatus(ctx context.Context, jobID uuid.UUID) (*BatchStatusResult, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	if job == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
	}

	counts, err := s.repo.CountChildrenByStatus(ctx, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count children")
	}

	result := &BatchStatusResult{
		JobID:     job.ID.String(),
		Status:    job.Status.String(),
		Completed: counts[enums.JobStatusCompleted],
		Failed:    counts[enums.JobStatusFailed],
		Pending:   counts[enums.JobStatusPending],
		Running:   counts[enums.JobStatusRunning],
	}
	result.Total = result.Completed + result.Failed + result.Pending + result.Running
	return result, nil
}

// NewPubSubPublisher adapts a Pub/Sub publisher handle to the narrow
// interface the service consumes.
func NewPubSubPublisher(pub *gcppubsub.Publisher) requestPublisher {
	if pub == nil {
		return nil
	}
	return &gcpPublisher{pub: pub}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.pub == nil {
		return nil
	}
	return p.pub.Publish(ctx, msg)
}
