package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/api/responses"
	"github.com/corecastapp/corecast-backend/internal/jobs"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/types"
)

type jobStatusService interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*jobs.JobStatusResult, error)
	GetBatchStatus(ctx context.Context, jobID uuid.UUID) (*jobs.BatchStatusResult, error)
}

type jobCreateService interface {
	CreateJob(ctx context.Context, params jobs.CreateJobParams) (*jobs.WorkerJob, error)
}

type jobCreateRequest struct {
	Type     string             `json:"type"`
	Input    json.RawMessage    `json:"input"`
	ParentID types.NullableUUID `json:"parent_id"`
}

// JobCreate enqueues a worker job on behalf of a calling service. parent_id
// distinguishes absent from an explicit null; the latter is rejected rather
// than treated as a root job.
func JobCreate(svc jobCreateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req jobCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode job payload"))
			return
		}
		if req.Type == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "type is required"))
			return
		}
		if req.ParentID.Valid && req.ParentID.Value == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "parent_id must be a uuid or omitted"))
			return
		}

		job, err := svc.CreateJob(ctx, jobs.CreateJobParams{
			Type:     enums.JobType(req.Type),
			Input:    req.Input,
			ParentID: req.ParentID.Value,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, jobs.JobStatusResult{
			JobID:     job.ID.String(),
			Type:      job.Type.String(),
			Status:    job.Status.String(),
			CreatedAt: job.CreatedAt,
		})
	}
}

// JobStatus returns the status view of one job.
func JobStatus(svc jobStatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "job id must be a uuid"))
			return
		}

		result, err := svc.GetJobStatus(ctx, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// JobBatchStatus aggregates the direct children of a parent job.
func JobBatchStatus(svc jobStatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "job id must be a uuid"))
			return
		}

		result, err := svc.GetBatchStatus(ctx, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
