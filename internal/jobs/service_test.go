package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

func setupJobsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `CREATE TABLE jobs (
  id TEXT PRIMARY KEY,
  identity_key TEXT NOT NULL,
  integration_id TEXT NOT NULL,
  operation TEXT NOT NULL,
  description TEXT,
  payload TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  blocked_entity_type TEXT,
  blocked_code TEXT,
  started_at DATETIME,
  finished_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX ux_jobs_identity_unfinished
  ON jobs (identity_key) WHERE state IN ('pending', 'running');`
	require.NoError(t, conn.Exec(ddl).Error)
	return conn
}

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(s.db)
}

func newTestJobsService(t *testing.T) (Service, Repository, *gorm.DB) {
	t.Helper()
	conn := setupJobsTestDB(t)
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     &stubTxRunner{db: conn},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return svc, repo, conn
}

func scheduleInput(integrationID uuid.UUID, code string, op enums.JobOperation) ScheduleInput {
	return ScheduleInput{
		IntegrationID: integrationID,
		Operation:     op,
		Code:          code,
		Description:   "test job",
		Payload:       json.RawMessage(`{"code":"` + code + `"}`),
	}
}

func TestScheduleCoalescesOnIdentityKey(t *testing.T) {
	svc, _, _ := newTestJobsService(t)
	ctx := context.Background()
	scope := uuid.New()

	first, created, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-1", enums.JobOrderImport))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-1", enums.JobOrderImport))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	// a different operation on the same order is separate work
	_, created, err = svc.Schedule(ctx, scheduleInput(scope, "ORD-1", enums.JobOrderUpdate))
	require.NoError(t, err)
	require.True(t, created)
}

func TestScheduleAllowsNewJobAfterFinish(t *testing.T) {
	svc, repo, _ := newTestJobsService(t)
	ctx := context.Background()
	scope := uuid.New()

	first, created, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-2", enums.JobOrderUpdate))
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.MarkDone(ctx, first.ID))

	_, created, err = svc.Schedule(ctx, scheduleInput(scope, "ORD-2", enums.JobOrderUpdate))
	require.NoError(t, err)
	require.True(t, created)
}

func TestRequeueBlockedFlipsOnlyMatchingJobs(t *testing.T) {
	svc, repo, _ := newTestJobsService(t)
	ctx := context.Background()
	scope := uuid.New()

	blocked, _, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-3", enums.JobOrderImport))
	require.NoError(t, err)
	other, _, err := svc.Schedule(ctx, scheduleInput(scope, "ORD-4", enums.JobOrderImport))
	require.NoError(t, err)

	_, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)

	productType := "product"
	blockedCode := "SQ-77"
	require.NoError(t, repo.MarkFailed(ctx, blocked.ID, "not mapped", &productType, &blockedCode))
	otherCode := "SQ-99"
	require.NoError(t, repo.MarkFailed(ctx, other.ID, "not mapped", &productType, &otherCode))

	count, err := svc.RequeueBlocked(ctx, scope, enums.EntityProduct, "SQ-77")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	claimed, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, blocked.ID, claimed[0].ID)
}

func TestHasPendingCancel(t *testing.T) {
	svc, _, _ := newTestJobsService(t)
	ctx := context.Background()
	scope := uuid.New()

	has, err := svc.HasPendingCancel(ctx, scope, "ORD-5")
	require.NoError(t, err)
	require.False(t, has)

	_, _, err = svc.Schedule(ctx, scheduleInput(scope, "ORD-5", enums.JobOrderCancel))
	require.NoError(t, err)

	has, err = svc.HasPendingCancel(ctx, scope, "ORD-5")
	require.NoError(t, err)
	require.True(t, has)
}

func TestScheduleValidatesInput(t *testing.T) {
	svc, _, _ := newTestJobsService(t)
	ctx := context.Background()

	_, _, err := svc.Schedule(ctx, ScheduleInput{})
	require.Error(t, err)

	_, _, err = svc.Schedule(ctx, ScheduleInput{
		IntegrationID: uuid.New(),
		Operation:     "mystery_op",
		Code:          "X",
		Payload:       json.RawMessage(`{}`),
	})
	require.Error(t, err)
}
