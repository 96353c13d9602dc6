package transactions

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/pkg/enums"
)

func setupTransactionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS user_transactions (
  id TEXT PRIMARY KEY,
  status INTEGER NOT NULL,
  receiver_id TEXT NOT NULL,
  sender_id TEXT,
  product_id TEXT,
  value INTEGER NOT NULL,
  value_inc_fees INTEGER NOT NULL,
  fee INTEGER NOT NULL DEFAULT 0,
  processor TEXT NOT NULL,
  flags TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	index := `
CREATE UNIQUE INDEX IF NOT EXISTS user_transactions_provider_ref
  ON user_transactions (processor, json_extract(flags, '$.provider_id'));`
	require.NoError(t, db.Exec(schema).Error)
	require.NoError(t, db.Exec(index).Error)
	return db
}

func newLedgerRecord(providerID string, status enums.TransactionStatus, value int64) *UserTransaction {
	return &UserTransaction{
		Status:       status,
		ReceiverID:   uuid.New(),
		Value:        value,
		ValueIncFees: value,
		Processor:    enums.ProcessorPaddle,
		Flags:        TransactionFlags{ProviderID: stringPtr(providerID)},
	}
}

func TestUpsertInsertsNewRecord(t *testing.T) {
	repo := NewRepository(setupTransactionsTestDB(t))
	ctx := context.Background()

	record := newLedgerRecord("txn_a", enums.TransactionStatusCreated, 600)
	saved, err := repo.Upsert(ctx, record)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)

	found, err := repo.FindByProviderID(ctx, enums.ProcessorPaddle, "txn_a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, enums.TransactionStatusCreated, found.Status)
	assert.Equal(t, int64(600), found.Value)
}

func TestFindByProviderIDReturnsNilWhenMissing(t *testing.T) {
	repo := NewRepository(setupTransactionsTestDB(t))

	found, err := repo.FindByProviderID(context.Background(), enums.ProcessorPaddle, "txn_missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpsertFoldsDuplicateInsertIntoExistingRow(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := newLedgerRecord("txn_dup", enums.TransactionStatusCreated, 600)
	_, err := repo.Upsert(ctx, first)
	require.NoError(t, err)

	// Same provider id arriving as a fresh record, as happens when two
	// copies of the same webhook race each other.
	second := newLedgerRecord("txn_dup", enums.TransactionStatusProcessing, 600)
	second.ReceiverID = first.ReceiverID
	folded, err := repo.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, folded.ID)
	assert.Equal(t, enums.TransactionStatusProcessing, folded.Status)

	var count int64
	require.NoError(t, db.Model(&UserTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertMergesFlagsForLoadedRecord(t *testing.T) {
	repo := NewRepository(setupTransactionsTestDB(t))
	ctx := context.Background()

	record := newLedgerRecord("txn_flags", enums.TransactionStatusCreated, 600)
	record.Flags.Error = stringPtr("payment failed: declined")
	saved, err := repo.Upsert(ctx, record)
	require.NoError(t, err)

	update := &UserTransaction{
		ID:           saved.ID,
		Status:       enums.TransactionStatusProcessing,
		ReceiverID:   saved.ReceiverID,
		Value:        saved.Value,
		ValueIncFees: saved.ValueIncFees,
		Processor:    saved.Processor,
		Flags:        TransactionFlags{Note: stringPtr("retried")},
	}
	_, err = repo.Upsert(ctx, update)
	require.NoError(t, err)

	found, err := repo.FindByProviderID(ctx, enums.ProcessorPaddle, "txn_flags")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.Flags.ProviderID)
	assert.Equal(t, "txn_flags", *found.Flags.ProviderID)
	require.NotNil(t, found.Flags.Error)
	assert.Equal(t, "payment failed: declined", *found.Flags.Error)
	require.NotNil(t, found.Flags.Note)
	assert.Equal(t, "retried", *found.Flags.Note)
}

func TestUpsertClearsErrorFlagWithEmptySentinel(t *testing.T) {
	repo := NewRepository(setupTransactionsTestDB(t))
	ctx := context.Background()

	record := newLedgerRecord("txn_clear", enums.TransactionStatusErrorRecoverable, 600)
	record.Flags.Error = stringPtr("payment failed: declined")
	saved, err := repo.Upsert(ctx, record)
	require.NoError(t, err)

	saved.Status = enums.TransactionStatusSuccess
	saved.Flags = TransactionFlags{Error: stringPtr("")}
	_, err = repo.Upsert(ctx, saved)
	require.NoError(t, err)

	found, err := repo.FindByProviderID(ctx, enums.ProcessorPaddle, "txn_clear")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Nil(t, found.Flags.Error)
	require.NotNil(t, found.Flags.ProviderID)
	assert.Equal(t, "txn_clear", *found.Flags.ProviderID)
}

func TestUpsertRequiresProviderID(t *testing.T) {
	repo := NewRepository(setupTransactionsTestDB(t))

	record := newLedgerRecord("", enums.TransactionStatusCreated, 100)
	record.Flags.ProviderID = nil
	_, err := repo.Upsert(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider id")
}

func TestUpsertKeepsRecordsOfDifferentProcessorsApart(t *testing.T) {
	db := setupTransactionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	paddleRecord := newLedgerRecord("shared_ref", enums.TransactionStatusCreated, 100)
	_, err := repo.Upsert(ctx, paddleRecord)
	require.NoError(t, err)

	appleRecord := newLedgerRecord("shared_ref", enums.TransactionStatusCreated, 100)
	appleRecord.Processor = enums.ProcessorAppleIAP
	_, err = repo.Upsert(ctx, appleRecord)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&UserTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
