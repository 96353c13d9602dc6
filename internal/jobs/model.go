package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/pkg/enums"
)

// WorkerJob is one unit of asynchronous work. Jobs may form a one-level tree:
// a parent is finished only by rollup over its children, never directly.
type WorkerJob struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ParentID    *uuid.UUID      `gorm:"column:parent_id;type:uuid"`
	Type        enums.JobType   `gorm:"column:type;type:text;not null"`
	Status      enums.JobStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	Input       json.RawMessage `gorm:"column:input;type:jsonb"`
	Result      json.RawMessage `gorm:"column:result;type:jsonb"`
	Error       *string         `gorm:"column:error"`
	StartedAt   *time.Time      `gorm:"column:started_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName implements the gorm naming override.
func (WorkerJob) TableName() string {
	return "worker_jobs"
}
