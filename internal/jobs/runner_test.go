package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lucasferrero/channelsync-backend/pkg/config"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

func newRunnerWithDB(t *testing.T) (*Runner, Repository, Service) {
	t.Helper()
	conn := setupJobsTestDB(t)
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     &stubTxRunner{db: conn},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	runner, err := NewRunner(RunnerParams{
		Repo:   repo,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Config: config.JobsConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 3},
	})
	require.NoError(t, err)
	return runner, repo, svc
}

func TestRunnerMarksJobDone(t *testing.T) {
	runner, _, svc := newRunnerWithDB(t)
	ctx := context.Background()
	scope := uuid.New()

	var handled []string
	runner.Register(enums.JobOrderImport, func(_ context.Context, job *models.Job) error {
		var payload struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		handled = append(handled, payload.Code)
		return nil
	})

	job, _, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-10", enums.JobOrderImport))
	require.NoError(t, err)

	require.NoError(t, runner.runBatch(ctx))
	require.Equal(t, []string{"ORD-10"}, handled)

	// a second batch finds nothing to claim
	require.NoError(t, runner.runBatch(ctx))
	require.Len(t, handled, 1)

	// job finished, so scheduling again creates a fresh one
	fresh, created, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-10", enums.JobOrderImport))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, job.ID, fresh.ID)
}

func TestRunnerRecordsBlockedMappingOnFailure(t *testing.T) {
	runner, repo, svc := newRunnerWithDB(t)
	ctx := context.Background()
	scope := uuid.New()

	runner.Register(enums.JobOrderImport, func(context.Context, *models.Job) error {
		return pkgerrors.NotMapped("product", "SQ-55", "test-shop")
	})

	_, _, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-11", enums.JobOrderImport))
	require.NoError(t, err)
	require.NoError(t, runner.runBatch(ctx))

	// the failed job is findable by its blocked pair and can be requeued
	count, err := repo.RequeueBlocked(ctx, scope, "product", "SQ-55")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRunnerFailsJobsWithoutHandler(t *testing.T) {
	runner, _, svc := newRunnerWithDB(t)
	ctx := context.Background()
	scope := uuid.New()

	_, _, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-12", enums.JobOrderCancel))
	require.NoError(t, err)

	require.NoError(t, runner.runBatch(ctx))

	// the unhandled job is finished (failed), so a new schedule succeeds
	_, created, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-12", enums.JobOrderCancel))
	require.NoError(t, err)
	require.True(t, created)
}
