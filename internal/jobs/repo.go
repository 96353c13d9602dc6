package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/pkg/enums"
)

// Repository manages worker job persistence. The conditional status writes
// carry the idempotency of the execution engine: a claim or finalize that
// loses a race simply affects zero rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *WorkerJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*WorkerJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error
	CountChildrenByStatus(ctx context.Context, parentID uuid.UUID) (map[enums.JobStatus]int64, error)
	FinalizeParent(ctx context.Context, parentID uuid.UUID, status enums.JobStatus, completedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a job repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *WorkerJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = enums.JobStatusPending
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// FindByID returns the job, or nil when it does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*WorkerJob, error) {
	var job WorkerJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkRunning claims a pending job. Returns false when another worker claimed
// it first or the job already left PENDING.
func (r *repository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&WorkerJob{}).
		Where("id = ? AND status = ?", id, enums.JobStatusPending).
		Updates(map[string]any{
			"status":     enums.JobStatusRunning,
			"started_at": startedAt,
			"updated_at": startedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WorkerJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.JobStatusCompleted,
			"result":       result,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WorkerJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.JobStatusFailed,
			"error":        message,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error
}

// CountChildrenByStatus aggregates the direct children of a parent by status.
func (r *repository) CountChildrenByStatus(ctx context.Context, parentID uuid.UUID) (map[enums.JobStatus]int64, error) {
	type row struct {
		Status enums.JobStatus
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&WorkerJob{}).
		Select("status, count(*) as count").
		Where("parent_id = ?", parentID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// FinalizeParent moves a parent into a terminal status unless it already is
// terminal. Safe to call redundantly; concurrent sibling completions may race
// here and only one write lands.
func (r *repository) FinalizeParent(ctx context.Context, parentID uuid.UUID, status enums.JobStatus, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&WorkerJob{}).
		Where("id = ? AND status NOT IN ?", parentID, []enums.JobStatus{
			enums.JobStatusCompleted,
			enums.JobStatusFailed,
		}).
		Updates(map[string]any{
			"status":       status,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
