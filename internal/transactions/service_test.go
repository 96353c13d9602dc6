package transactions

import (
	"context"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/internal/njord"
	"github.com/corecastapp/corecast-backend/internal/paddle"
	"github.com/corecastapp/corecast-backend/internal/users"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type fakeNjordClient struct {
	calls int
	err   error
}

func (f *fakeNjordClient) Transfer(_ context.Context, _ njord.TransferRequest) (*njord.TransferResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &njord.TransferResult{Status: enums.TransferStatusSuccess}, nil
}

type fakePublishResult struct{}

func (fakePublishResult) Get(context.Context) (string, error) {
	return "m-1", nil
}

type fakeEventPublisher struct {
	published []*gcppubsub.Message
}

func (f *fakeEventPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.published = append(f.published, msg)
	return fakePublishResult{}
}

type serviceFixture struct {
	db        *gorm.DB
	service   *Service
	njord     *fakeNjordClient
	publisher *fakeEventPublisher
}

func setupServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := setupTransactionsTestDB(t)
	usersSchema := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'member',
  created_at DATETIME
);`
	require.NoError(t, db.Exec(usersSchema).Error)

	njordClient := &fakeNjordClient{}
	publisher := &fakeEventPublisher{}
	service, err := NewService(ServiceParams{
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		TransactionRunner: &testTxRunner{db: db},
		Repo:              NewRepository(db),
		Users:             users.NewRepository(db),
		Njord:             njordClient,
		Publisher:         publisher,
	})
	require.NoError(t, err)

	return &serviceFixture{db: db, service: service, njord: njordClient, publisher: publisher}
}

func eventOfType(t *testing.T, eventType paddle.EventType) (paddle.WebhookEvent, uuid.UUID) {
	t.Helper()
	event, userID := validWebhookEvent(t)
	event.EventType = eventType
	return event, userID
}

func (f *serviceFixture) findRecord(t *testing.T, providerID string) *UserTransaction {
	t.Helper()
	record, err := NewRepository(f.db).FindByProviderID(context.Background(), enums.ProcessorPaddle, providerID)
	require.NoError(t, err)
	return record
}

func (f *serviceFixture) insertUser(t *testing.T, id uuid.UUID, role enums.UserRole) {
	t.Helper()
	require.NoError(t, f.db.Create(&users.User{ID: id, Username: "u-" + id.String()[:8], Role: role}).Error)
}

func futureTimestamp() string {
	return time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
}

func TestHandleCreatedIsIdempotent(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()
	event, _ := eventOfType(t, paddle.EventTransactionCreated)

	require.NoError(t, f.service.HandleCreated(ctx, event))
	require.NoError(t, f.service.HandleCreated(ctx, event))

	var count int64
	require.NoError(t, f.db.Model(&UserTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusCreated, record.Status)
	assert.Equal(t, int64(600), record.Value)
}

func TestHandleUpdatedRefreshesValuesButNotStatus(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	created, _ := eventOfType(t, paddle.EventTransactionCreated)
	require.NoError(t, f.service.HandleCreated(ctx, created))

	updated := created
	updated.EventType = paddle.EventTransactionUpdated
	updated.Data.UpdatedAt = futureTimestamp()
	updated.Data.Status = "billed"
	updated.Data.Items[0].Price.CustomData = map[string]string{"cores": "200"}

	require.NoError(t, f.service.HandleUpdated(ctx, updated))

	record := f.findRecord(t, created.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, int64(400), record.Value)
	// Updated events refresh values only; the state machine is driven by the
	// dedicated lifecycle events.
	assert.Equal(t, enums.TransactionStatusCreated, record.Status)
}

func TestHandleUpdatedIgnoresStaleEvent(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	created, _ := eventOfType(t, paddle.EventTransactionCreated)
	require.NoError(t, f.service.HandleCreated(ctx, created))

	stale := created
	stale.EventType = paddle.EventTransactionUpdated
	stale.Data.UpdatedAt = "2020-01-01T00:00:00Z"
	stale.Data.Items[0].Price.CustomData = map[string]string{"cores": "50"}

	require.NoError(t, f.service.HandleUpdated(ctx, stale))

	record := f.findRecord(t, created.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, int64(600), record.Value)
}

func TestHandleUpdatedCreatesRecordFromRawStatus(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, _ := eventOfType(t, paddle.EventTransactionUpdated)
	event.Data.Status = "billed"
	require.NoError(t, f.service.HandleUpdated(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusProcessing, record.Status)
}

func TestHandleUpdatedSkipsUnknownRawStatusWithoutRecord(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, _ := eventOfType(t, paddle.EventTransactionUpdated)
	event.Data.Status = "past_due"
	require.NoError(t, f.service.HandleUpdated(ctx, event))

	assert.Nil(t, f.findRecord(t, event.Data.ID))
}

func TestHandleUpdatedRejectsValueChangeAfterSettlement(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	completed, _ := eventOfType(t, paddle.EventTransactionCompleted)
	require.NoError(t, f.service.HandleCompleted(ctx, completed))

	updated := completed
	updated.EventType = paddle.EventTransactionUpdated
	updated.Data.UpdatedAt = futureTimestamp()
	updated.Data.Items[0].Price.CustomData = map[string]string{"cores": "150"}

	err := f.service.HandleUpdated(ctx, updated)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	record := f.findRecord(t, completed.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, int64(600), record.Value)
}

func TestHandlePaidCreatesProcessingWhenRecordMissing(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, _ := eventOfType(t, paddle.EventTransactionPaid)
	require.NoError(t, f.service.HandlePaid(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusProcessing, record.Status)
}

func TestHandlePaidDoesNotRegressSettledRecord(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	completed, _ := eventOfType(t, paddle.EventTransactionCompleted)
	require.NoError(t, f.service.HandleCompleted(ctx, completed))

	paid := completed
	paid.EventType = paddle.EventTransactionPaid
	require.NoError(t, f.service.HandlePaid(ctx, paid))

	record := f.findRecord(t, completed.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
}

func TestHandlePaymentFailedRequiresKnownRecord(t *testing.T) {
	f := setupServiceFixture(t)

	event, _ := eventOfType(t, paddle.EventTransactionPaymentFailed)
	err := f.service.HandlePaymentFailed(context.Background(), event)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestHandlePaymentFailedMarksRecoverableWithErrorCode(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	created, _ := eventOfType(t, paddle.EventTransactionCreated)
	require.NoError(t, f.service.HandleCreated(ctx, created))

	failed := created
	failed.EventType = paddle.EventTransactionPaymentFailed
	failed.Data.Payments = []paddle.Payment{{Status: "error", ErrorCode: "declined"}}
	require.NoError(t, f.service.HandlePaymentFailed(ctx, failed))

	record := f.findRecord(t, created.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusErrorRecoverable, record.Status)
	require.NotNil(t, record.Flags.Error)
	assert.Equal(t, "payment failed: declined", *record.Flags.Error)
}

func TestHandlePaymentFailedAfterSettlementLeavesRecordAlone(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	completed, _ := eventOfType(t, paddle.EventTransactionCompleted)
	require.NoError(t, f.service.HandleCompleted(ctx, completed))

	failed := completed
	failed.EventType = paddle.EventTransactionPaymentFailed
	require.NoError(t, f.service.HandlePaymentFailed(ctx, failed))

	record := f.findRecord(t, completed.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
	assert.Nil(t, record.Flags.Error)
}

func TestHandleCompletedSettlesExactlyOnce(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, _ := eventOfType(t, paddle.EventTransactionCompleted)
	require.NoError(t, f.service.HandleCompleted(ctx, event))
	require.NoError(t, f.service.HandleCompleted(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
	assert.Equal(t, int64(600), record.Value)
	assert.Nil(t, record.Flags.Error)
	assert.Equal(t, 1, f.njord.calls)
	assert.Len(t, f.publisher.published, 1)
}

func TestFailureThenCompletionConverges(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	created, _ := eventOfType(t, paddle.EventTransactionCreated)
	require.NoError(t, f.service.HandleCreated(ctx, created))

	failed := created
	failed.EventType = paddle.EventTransactionPaymentFailed
	failed.Data.Payments = []paddle.Payment{{Status: "error", ErrorCode: "declined"}}
	require.NoError(t, f.service.HandlePaymentFailed(ctx, failed))

	paid := created
	paid.EventType = paddle.EventTransactionPaid
	require.NoError(t, f.service.HandlePaid(ctx, paid))

	completed := created
	completed.EventType = paddle.EventTransactionCompleted
	require.NoError(t, f.service.HandleCompleted(ctx, completed))

	record := f.findRecord(t, created.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
	assert.Equal(t, int64(600), record.Value)
	assert.Nil(t, record.Flags.Error)
	assert.Equal(t, 1, f.njord.calls)
}

func TestHandleCompletedRecordsTransferFailure(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()
	f.njord.err = &njord.TransferError{
		Status:  enums.TransferStatusInsufficientFunds,
		Code:    enums.TransferStatusInsufficientFunds.TransactionStatus(),
		Message: "transfer rejected with status INSUFFICIENT_FUNDS",
	}

	event, _ := eventOfType(t, paddle.EventTransactionCompleted)
	// The webhook is still acknowledged; the failure lives on the record.
	require.NoError(t, f.service.HandleCompleted(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusError, record.Status)
	require.NotNil(t, record.Flags.Error)
	assert.Contains(t, *record.Flags.Error, "INSUFFICIENT_FUNDS")
	assert.Equal(t, 1, f.njord.calls)
	assert.Empty(t, f.publisher.published)
}

func TestHandleCompletedSandboxSkipsTransfer(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, _ := eventOfType(t, paddle.EventTransactionCompleted)
	event.Data.DiscountID = stringPtr("dsc_sandbox_01hv9")
	require.NoError(t, f.service.HandleCompleted(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
	require.NotNil(t, record.Flags.Note)
	assert.Contains(t, *record.Flags.Note, "dsc_sandbox_01hv9")
	assert.Zero(t, f.njord.calls)
	assert.Empty(t, f.publisher.published)
}

func TestReceiverMismatchIsRejectedByEveryHandler(t *testing.T) {
	tests := []struct {
		name     string
		dispatch func(f *serviceFixture, ctx context.Context, event paddle.WebhookEvent) error
	}{
		{
			name: "created",
			dispatch: func(f *serviceFixture, ctx context.Context, event paddle.WebhookEvent) error {
				event.EventType = paddle.EventTransactionCreated
				return f.service.HandleCreated(ctx, event)
			},
		},
		{
			name: "updated",
			dispatch: func(f *serviceFixture, ctx context.Context, event paddle.WebhookEvent) error {
				event.EventType = paddle.EventTransactionUpdated
				event.Data.UpdatedAt = futureTimestamp()
				event.Data.Items[0].Price.CustomData = map[string]string{"cores": "150"}
				return f.service.HandleUpdated(ctx, event)
			},
		},
		{
			name: "paid",
			dispatch: func(f *serviceFixture, ctx context.Context, event paddle.WebhookEvent) error {
				event.EventType = paddle.EventTransactionPaid
				return f.service.HandlePaid(ctx, event)
			},
		},
		{
			name: "payment failed",
			dispatch: func(f *serviceFixture, ctx context.Context, event paddle.WebhookEvent) error {
				event.EventType = paddle.EventTransactionPaymentFailed
				return f.service.HandlePaymentFailed(ctx, event)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupServiceFixture(t)
			ctx := context.Background()

			created, _ := eventOfType(t, paddle.EventTransactionCreated)
			require.NoError(t, f.service.HandleCreated(ctx, created))

			mismatched := created
			mismatched.Data.CustomData = map[string]string{"user_id": uuid.NewString()}

			err := tt.dispatch(f, ctx, mismatched)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

			// The record is never silently reassigned or mutated.
			record := f.findRecord(t, created.Data.ID)
			require.NotNil(t, record)
			assert.Equal(t, enums.TransactionStatusCreated, record.Status)
			assert.Equal(t, int64(600), record.Value)
		})
	}
}

func TestHandleCompletedRejectsReceiverMismatch(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	created, _ := eventOfType(t, paddle.EventTransactionCreated)
	require.NoError(t, f.service.HandleCreated(ctx, created))

	completed := created
	completed.EventType = paddle.EventTransactionCompleted
	completed.Data.CustomData = map[string]string{"user_id": uuid.NewString()}

	err := f.service.HandleCompleted(ctx, completed)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	assert.Zero(t, f.njord.calls)
}

func TestHandleCompletedProductRequiresEligibleRole(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, userID := eventOfType(t, paddle.EventTransactionCompleted)
	event.Data.CustomData["product_id"] = uuid.NewString()
	f.insertUser(t, userID, enums.UserRoleMember)

	err := f.service.HandleCompleted(ctx, event)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
	assert.Equal(t, "user does not have access", typed.Message())
	assert.Zero(t, f.njord.calls)
}

func TestHandleCompletedProductSettlesForCreator(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	event, userID := eventOfType(t, paddle.EventTransactionCompleted)
	event.Data.CustomData["product_id"] = uuid.NewString()
	f.insertUser(t, userID, enums.UserRoleCreator)

	require.NoError(t, f.service.HandleCompleted(ctx, event))

	record := f.findRecord(t, event.Data.ID)
	require.NotNil(t, record)
	assert.Equal(t, enums.TransactionStatusSuccess, record.Status)
	assert.Equal(t, 1, f.njord.calls)
}
