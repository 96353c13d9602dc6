package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
)

type fakePublishResult struct{}

func (fakePublishResult) Get(context.Context) (string, error) {
	return "m-1", nil
}

type fakeRequestPublisher struct {
	published []*gcppubsub.Message
}

func (f *fakeRequestPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.published = append(f.published, msg)
	return fakePublishResult{}
}

func newTestService(t *testing.T, repo Repository, publisher requestPublisher) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{Logger: testLogger(), Repo: repo, Publisher: publisher})
	require.NoError(t, err)
	return service
}

func TestCreateJobPersistsAndPublishesExecutionRequest(t *testing.T) {
	repo := NewRepository(setupJobsTestDB(t))
	publisher := &fakeRequestPublisher{}
	service := newTestService(t, repo, publisher)
	ctx := context.Background()

	job, err := service.CreateJob(ctx, CreateJobParams{
		Type:  enums.JobTypeCoreBalanceLookup,
		Input: json.RawMessage(`{"account_id":"acct-1"}`),
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, enums.JobStatusPending, job.Status)

	require.Len(t, publisher.published, 1)
	var request ExecutionRequest
	require.NoError(t, json.Unmarshal(publisher.published[0].Data, &request))
	assert.Equal(t, job.ID.String(), request.JobID)
	assert.Equal(t, string(enums.EventJobExecutionRequested), publisher.published[0].Attributes["event_type"])
}

func TestCreateJobSurvivesPublishFailure(t *testing.T) {
	repo := NewRepository(setupJobsTestDB(t))
	service := newTestService(t, repo, nil)
	ctx := context.Background()

	// The enqueue fails but the row must exist so it can be re-enqueued.
	job, err := service.CreateJob(ctx, CreateJobParams{Type: enums.JobTypeCoreBalanceLookup})
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.JobStatusPending, stored.Status)
}

func TestCreateJobRequiresType(t *testing.T) {
	service := newTestService(t, NewRepository(setupJobsTestDB(t)), &fakeRequestPublisher{})

	_, err := service.CreateJob(context.Background(), CreateJobParams{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestGetJobStatusReturnsNotFound(t *testing.T) {
	service := newTestService(t, NewRepository(setupJobsTestDB(t)), &fakeRequestPublisher{})

	_, err := service.GetJobStatus(context.Background(), uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestGetJobStatusReflectsTerminalFields(t *testing.T) {
	repo := NewRepository(setupJobsTestDB(t))
	service := newTestService(t, repo, &fakeRequestPublisher{})
	ctx := context.Background()

	job := mustJob(t, repo, enums.JobTypeCoreBalanceLookup, `{}`, nil)
	_, err := repo.MarkRunning(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, job.ID, "account frozen", time.Now().UTC()))

	status, err := service.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID.String(), status.JobID)
	assert.Equal(t, enums.JobStatusFailed.String(), status.Status)
	assert.NotNil(t, status.StartedAt)
	assert.NotNil(t, status.CompletedAt)
	require.NotNil(t, status.Error)
	assert.Equal(t, "account frozen", *status.Error)
}

func TestGetBatchStatusCountsDirectChildren(t *testing.T) {
	repo := NewRepository(setupJobsTestDB(t))
	service := newTestService(t, repo, &fakeRequestPublisher{})
	ctx := context.Background()

	parent := mustJob(t, repo, enums.JobTypeCoreBalanceBatch, `{}`, nil)
	claimed, err := repo.MarkRunning(ctx, parent.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		child := mustJob(t, repo, enums.JobTypeCoreBalanceLookup, `{}`, &parent.ID)
		_, err := repo.MarkRunning(ctx, child.ID, now)
		require.NoError(t, err)
		require.NoError(t, repo.MarkCompleted(ctx, child.ID, json.RawMessage(`{}`), now))
	}
	failed := mustJob(t, repo, enums.JobTypeCoreBalanceLookup, `{}`, &parent.ID)
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "boom", now))
	mustJob(t, repo, enums.JobTypeCoreBalanceLookup, `{}`, &parent.ID)
	running := mustJob(t, repo, enums.JobTypeCoreBalanceLookup, `{}`, &parent.ID)
	_, err = repo.MarkRunning(ctx, running.ID, now)
	require.NoError(t, err)

	batch, err := service.GetBatchStatus(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusRunning.String(), batch.Status)
	assert.Equal(t, int64(5), batch.Total)
	assert.Equal(t, int64(2), batch.Completed)
	assert.Equal(t, int64(1), batch.Failed)
	assert.Equal(t, int64(1), batch.Pending)
	assert.Equal(t, int64(1), batch.Running)
}
