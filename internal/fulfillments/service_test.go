package fulfillments

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

func setupFulfillmentsDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE fulfillments (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  code TEXT NOT NULL,
  order_id TEXT NOT NULL,
  platform_status TEXT,
  internal_status TEXT NOT NULL DEFAULT 'draft',
  tracking_number TEXT,
  tracking_carrier TEXT,
  tracking_url TEXT,
  internal_info TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (integration_id, code)
);`,
		`CREATE TABLE fulfillment_lines (
  id TEXT PRIMARY KEY,
  fulfillment_id TEXT NOT NULL,
  external_line TEXT NOT NULL,
  quantity TEXT NOT NULL
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

type recordingAdapter struct {
	canceled []string
}

func (a *recordingAdapter) GetProductTemplates(context.Context, []string) ([]platform.TemplateRecord, error) {
	return nil, nil
}
func (a *recordingAdapter) GetTaxes(context.Context) ([]platform.TaxRecord, error) { return nil, nil }
func (a *recordingAdapter) GetSaleOrderStatuses(context.Context) ([]platform.StatusRecord, error) {
	return nil, nil
}
func (a *recordingAdapter) GetCategories(context.Context) ([]platform.CategoryRecord, error) {
	return nil, nil
}
func (a *recordingAdapter) CancelFulfillment(_ context.Context, id string) error {
	a.canceled = append(a.canceled, id)
	return nil
}
func (a *recordingAdapter) CancelOrder(context.Context, string, platform.CancelParams) error {
	return nil
}

type fulfillmentHarness struct {
	svc         Service
	conn        *gorm.DB
	mapping     mapping.Service
	adapter     *recordingAdapter
	integration *models.Integration
}

func newFulfillmentHarness(t *testing.T) *fulfillmentHarness {
	t.Helper()
	conn := setupFulfillmentsDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})

	mappingSvc, err := mapping.NewService(mapping.ServiceParams{
		Repo:            mapping.NewRepository(conn),
		Tx:              &memTx{db: conn},
		Jobs:            noopRequeuer{},
		Logger:          logg,
		IntegrationName: "test-shop",
	})
	require.NoError(t, err)

	adapter := &recordingAdapter{}
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Tx:      &memTx{db: conn},
		Mapping: mappingSvc,
		Adapter: adapter,
		Logger:  logg,
	})
	require.NoError(t, err)

	return &fulfillmentHarness{
		svc:         svc,
		conn:        conn,
		mapping:     mappingSvc,
		adapter:     adapter,
		integration: &models.Integration{ID: uuid.New(), Name: "test-shop"},
	}
}

func (h *fulfillmentHarness) mapOrder(t *testing.T, code string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	orderID := uuid.New()
	_, err := h.mapping.GetOrCreateExternal(ctx, h.integration.ID, enums.EntityOrder, code, mapping.ExternalAttrs{Name: code})
	require.NoError(t, err)
	_, err = h.mapping.CreateOrUpdateMapping(ctx, h.integration.ID, enums.EntityOrder, code, mapping.BindTo(orderID))
	require.NoError(t, err)
	return orderID
}

func shipmentPayload(code, orderCode string) platform.FulfillmentPayload {
	return platform.FulfillmentPayload{
		Code:            code,
		OrderCode:       orderCode,
		PlatformStatus:  "shipped",
		TrackingNumber:  "1Z999",
		TrackingCarrier: "UPS",
		Lines: []platform.GroupLine{
			{LineID: "L1", Quantity: decimal.NewFromInt(2)},
		},
	}
}

func TestApplyRecordsShipmentOnce(t *testing.T) {
	h := newFulfillmentHarness(t)
	ctx := context.Background()
	orderID := h.mapOrder(t, "ORD-1")

	first, err := h.svc.Apply(ctx, h.integration, shipmentPayload("FUL-1", "ORD-1"))
	require.NoError(t, err)
	require.Equal(t, orderID, first.OrderID)
	require.Equal(t, enums.FulfillmentDone, first.InternalStatus)
	require.Equal(t, "1Z999", first.TrackingNumber)
	require.Len(t, first.Lines, 1)

	// replay: the applied fulfillment is returned untouched
	payload := shipmentPayload("FUL-1", "ORD-1")
	payload.TrackingNumber = "OTHER"
	again, err := h.svc.Apply(ctx, h.integration, payload)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "1Z999", again.TrackingNumber)

	var count int64
	require.NoError(t, h.conn.Model(&models.Fulfillment{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestApplyBlocksOnUnimportedOrder(t *testing.T) {
	h := newFulfillmentHarness(t)
	ctx := context.Background()

	_, err := h.svc.Apply(ctx, h.integration, shipmentPayload("FUL-2", "ORD-MISSING"))
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNoExternal))
}

func TestCancelPushesToPlatform(t *testing.T) {
	h := newFulfillmentHarness(t)
	ctx := context.Background()
	h.mapOrder(t, "ORD-3")

	_, err := h.svc.Apply(ctx, h.integration, shipmentPayload("FUL-3", "ORD-3"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx, h.integration, "FUL-3"))
	require.Equal(t, []string{"FUL-3"}, h.adapter.canceled)

	stored, err := NewRepository(h.conn).FindByCode(ctx, h.integration.ID, "FUL-3")
	require.NoError(t, err)
	require.Equal(t, "canceled", stored.PlatformStatus)

	err = h.svc.Cancel(ctx, h.integration, "FUL-404")
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
