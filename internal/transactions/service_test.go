package transactions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

func setupTransactionsDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{
		`CREATE TABLE external_records (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  code TEXT NOT NULL,
  name TEXT,
  reference TEXT,
  payload TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (integration_id, entity_type, code)
);`,
		`CREATE TABLE mappings (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  external_record_id TEXT NOT NULL,
  internal_id TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (integration_id, entity_type, external_record_id)
);`,
		`CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  external_str_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (integration_id, external_str_id)
);`,
	}
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type memTx struct {
	db *gorm.DB
}

func (m *memTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(m.db)
}

type noopRequeuer struct{}

func (noopRequeuer) RequeueBlocked(context.Context, uuid.UUID, enums.EntityType, string) (int64, error) {
	return 0, nil
}

func newTransactionsHarness(t *testing.T) (Service, mapping.Service, *gorm.DB, *models.Integration) {
	t.Helper()
	conn := setupTransactionsDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})

	mappingSvc, err := mapping.NewService(mapping.ServiceParams{
		Repo:            mapping.NewRepository(conn),
		Tx:              &memTx{db: conn},
		Jobs:            noopRequeuer{},
		Logger:          logg,
		IntegrationName: "test-shop",
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Mapping: mappingSvc,
		Logger:  logg,
	})
	require.NoError(t, err)
	return svc, mappingSvc, conn, &models.Integration{ID: uuid.New(), Name: "test-shop"}
}

func mapOrder(t *testing.T, svc mapping.Service, integrationID uuid.UUID, code string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	orderID := uuid.New()
	_, err := svc.GetOrCreateExternal(ctx, integrationID, enums.EntityOrder, code, mapping.ExternalAttrs{Name: code})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdateMapping(ctx, integrationID, enums.EntityOrder, code, mapping.BindTo(orderID))
	require.NoError(t, err)
	return orderID
}

func TestApplyRecordsTransactionOnce(t *testing.T) {
	svc, mappingSvc, conn, integration := newTransactionsHarness(t)
	ctx := context.Background()
	orderID := mapOrder(t, mappingSvc, integration.ID, "ORD-1")

	payload := platform.TransactionPayload{
		ExternalStrID: "pay_123",
		OrderCode:     "ORD-1",
		Kind:          "capture",
		Amount:        decimal.NewFromFloat(99.99),
		Currency:      "EUR",
	}

	first, created, err := svc.Apply(ctx, integration, payload)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, orderID, first.OrderID)
	require.Equal(t, enums.TransactionCapture, first.Kind)

	again, created, err := svc.Apply(ctx, integration, payload)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, conn.Model(&models.Transaction{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestApplyNormalizesUnknownKind(t *testing.T) {
	svc, mappingSvc, _, integration := newTransactionsHarness(t)
	ctx := context.Background()
	mapOrder(t, mappingSvc, integration.ID, "ORD-2")

	transaction, _, err := svc.Apply(ctx, integration, platform.TransactionPayload{
		ExternalStrID: "pay_456",
		OrderCode:     "ORD-2",
		Kind:          "mystery_event",
		Amount:        decimal.NewFromInt(10),
		Currency:      "EUR",
	})
	require.NoError(t, err)
	require.Equal(t, enums.TransactionOther, transaction.Kind)
}

func TestApplyBlocksOnUnimportedOrder(t *testing.T) {
	svc, _, _, integration := newTransactionsHarness(t)
	ctx := context.Background()

	_, _, err := svc.Apply(ctx, integration, platform.TransactionPayload{
		ExternalStrID: "pay_789",
		OrderCode:     "ORD-MISSING",
		Amount:        decimal.NewFromInt(10),
	})
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNoExternal))
}
