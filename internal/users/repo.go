package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/pkg/enums"
)

// User is the slim account projection the reconciliation core needs: enough
// to check who may receive cores. Profile data lives elsewhere.
type User struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Username  string         `gorm:"column:username;not null"`
	Role      enums.UserRole `gorm:"column:role;type:text;not null;default:'member'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName implements the gorm naming override.
func (User) TableName() string {
	return "users"
}

// Repository exposes user lookups for the reconciliation core.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByID loads a user by their UUID.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
