package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/pkg/db"
	"github.com/corecastapp/corecast-backend/pkg/enums"
)

// providerRefIndex is the unique expression index over
// (processor, flags->>'provider_id'). Both the postgres and the sqlite test
// schema use this name so violation detection works in either.
const providerRefIndex = "user_transactions_provider_ref"

// Repository manages persistence for user transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProviderID(ctx context.Context, processor enums.Processor, providerID string) (*UserTransaction, error)
	Upsert(ctx context.Context, txn *UserTransaction) (*UserTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByProviderID returns the ledger record owning the provider transaction
// id, or nil when none exists yet.
func (r *repository) FindByProviderID(ctx context.Context, processor enums.Processor, providerID string) (*UserTransaction, error) {
	var txn UserTransaction
	err := r.db.WithContext(ctx).
		Where("processor = ?", processor).
		Where(r.providerIDExpr()+" = ?", providerID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Upsert persists the record idempotently. A fresh record is inserted; when
// the insert loses the race against a concurrent duplicate delivery, the
// existing row is updated in place instead. A record that was already loaded
// is written back with its flags merged over the stored ones.
func (r *repository) Upsert(ctx context.Context, txn *UserTransaction) (*UserTransaction, error) {
	if txn.Flags.ProviderID == nil || *txn.Flags.ProviderID == "" {
		return nil, errors.New("provider id flag is required")
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
		err := r.db.WithContext(ctx).Create(txn).Error
		if err == nil {
			return txn, nil
		}
		if !db.IsUniqueViolation(err, providerRefIndex) {
			return nil, err
		}
		// Lost the insert race: fold the event into the row that won.
		existing, findErr := r.FindByProviderID(ctx, txn.Processor, *txn.Flags.ProviderID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		existing.Status = txn.Status
		existing.Value = txn.Value
		existing.ValueIncFees = txn.ValueIncFees
		existing.Flags = existing.Flags.MergedWith(txn.Flags)
		return r.update(ctx, existing)
	}

	var current UserTransaction
	if err := r.db.WithContext(ctx).First(&current, "id = ?", txn.ID).Error; err != nil {
		return nil, err
	}
	txn.Flags = current.Flags.MergedWith(txn.Flags)
	return r.update(ctx, txn)
}

func (r *repository) update(ctx context.Context, txn *UserTransaction) (*UserTransaction, error) {
	txn.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&UserTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"status":         txn.Status,
			"value":          txn.Value,
			"value_inc_fees": txn.ValueIncFees,
			"fee":            txn.Fee,
			"flags":          txn.Flags,
			"updated_at":     txn.UpdatedAt,
		}).Error
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// providerIDExpr extracts the provider id from the flags document in a way
// both postgres and the sqlite test database understand.
func (r *repository) providerIDExpr() string {
	if r.db.Dialector.Name() == "sqlite" {
		return "json_extract(flags, '$.provider_id')"
	}
	return "flags->>'provider_id'"
}
