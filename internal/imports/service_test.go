package imports

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/jobs"
	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

func setupImportsDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE jobs (
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
);`,
		`CREATE UNIQUE INDEX ux_jobs_identity_unfinished
  ON jobs (identity_key) WHERE state IN ('pending', 'running');`,
		`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  default_code TEXT,
  list_price TEXT NOT NULL DEFAULT '0',
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE partners (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT,
  reference TEXT,
  pricelist_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE addresses (
  id TEXT PRIMARY KEY,
  partner_id TEXT NOT NULL,
  street TEXT,
  city TEXT,
  zip TEXT,
  country TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE payment_methods (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE pricelists (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  currency TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE order_statuses (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE carriers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  reference TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE taxes (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  amount_percent TEXT NOT NULL,
  price_included INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
		`CREATE TABLE locations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  code TEXT NOT NULL,
  partner_id TEXT NOT NULL,
  shipping_address_id TEXT,
  billing_address_id TEXT,
  pricelist_id TEXT NOT NULL,
  payment_method_id TEXT,
  status_id TEXT,
  currency TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'draft',
  amount_total TEXT NOT NULL,
  internal_info TEXT,
  raw_payload TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (integration_id, code)
);`,
		`CREATE TABLE order_lines (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT 'product',
  external_line_id TEXT,
  product_id TEXT,
  location_id TEXT,
  name TEXT NOT NULL,
  quantity TEXT NOT NULL,
  price_unit TEXT NOT NULL,
  discount_percent TEXT NOT NULL DEFAULT '0',
  tax_ids TEXT,
  created_at DATETIME
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

// WithTx runs a real transaction so rollback behavior is observable.
func (m *memTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

// stubAdapter serves fixed templates for the live re-import path.
type stubAdapter struct {
	templates []platform.TemplateRecord
}

func (a *stubAdapter) GetProductTemplates(context.Context, []string) ([]platform.TemplateRecord, error) {
	return a.templates, nil
}
func (a *stubAdapter) GetTaxes(context.Context) ([]platform.TaxRecord, error)              { return nil, nil }
func (a *stubAdapter) GetSaleOrderStatuses(context.Context) ([]platform.StatusRecord, error) {
	return nil, nil
}
func (a *stubAdapter) GetCategories(context.Context) ([]platform.CategoryRecord, error) {
	return nil, nil
}
func (a *stubAdapter) CancelFulfillment(context.Context, string) error { return nil }
func (a *stubAdapter) CancelOrder(context.Context, string, platform.CancelParams) error {
	return nil
}

type importHarness struct {
	conn        *gorm.DB
	svc         Service
	repo        Repository
	mapping     mapping.Service
	jobs        jobs.Service
	integration *models.Integration
	adapter     *stubAdapter
}

func newImportHarness(t *testing.T) *importHarness {
	t.Helper()
	conn := setupImportsDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})

	jobsSvc, err := jobs.NewService(jobs.ServiceParams{
		Repo:   jobs.NewRepository(conn),
		Tx:     &memTx{db: conn},
		Logger: logg,
	})
	require.NoError(t, err)

	mappingSvc, err := mapping.NewService(mapping.ServiceParams{
		Repo:            mapping.NewRepository(conn),
		Tx:              &memTx{db: conn},
		Jobs:            jobsSvc,
		Logger:          logg,
		IntegrationName: "test-shop",
	})
	require.NoError(t, err)

	repo := NewRepository(conn)
	adapter := &stubAdapter{}
	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Tx:      &memTx{db: conn},
		Mapping: mappingSvc,
		Jobs:    jobsSvc,
		Adapter: adapter,
		Logger:  logg,
	})
	require.NoError(t, err)

	return &importHarness{
		conn:    conn,
		svc:     svc,
		repo:    repo,
		mapping: mappingSvc,
		jobs:    jobsSvc,
		integration: &models.Integration{
			ID:                     uuid.New(),
			Name:                   "test-shop",
			Platform:               "squareshop",
			DiscountAsSeparateLine: true,
		},
		adapter: adapter,
	}
}

func (h *importHarness) mapProduct(t *testing.T, code, name string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	product := models.Product{ID: uuid.New(), Name: name, DefaultCode: code}
	require.NoError(t, h.conn.Create(&product).Error)
	_, err := h.mapping.GetOrCreateExternal(ctx, h.integration.ID, enums.EntityProduct, code, mapping.ExternalAttrs{Name: name})
	require.NoError(t, err)
	_, err = h.mapping.CreateOrUpdateMapping(ctx, h.integration.ID, enums.EntityProduct, code, mapping.BindTo(product.ID))
	require.NoError(t, err)
	return product.ID
}

func basePayload(code string) platform.OrderPayload {
	return platform.OrderPayload{
		Code:     code,
		Currency: "EUR",
		Customer: platform.CustomerPayload{
			Code:  "CUST-1",
			Name:  "Jo Renard",
			Email: "jo@example.com",
		},
		Shipping: &platform.AddressPayload{Street: "1 Quai Nord", City: "Lyon", Zip: "69001", Country: "FR"},
		Lines: []platform.LinePayload{{
			ExternalLineID: "L1",
			TemplateCode:   "TPL-1",
			VariantCode:    "VAR-1",
			Name:           "Canvas Tote",
			Quantity:       decimal.NewFromInt(2),
			PriceUnit:      decimal.NewFromInt(50),
		}},
		PaymentMethodCode: "card",
		PaymentMethodName: "Card",
		AmountTotal:       decimal.NewFromInt(100),
	}
}

func TestCreateOrderImportsAndIsIdempotent(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	order, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-100"))
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Len(t, order.Lines, 1)
	require.True(t, order.AmountTotal.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, order.ShippingAddressID)
	require.NotNil(t, order.PaymentMethodID)

	// the mapping binds the order, so a second import returns it unchanged
	again, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-100"))
	require.NoError(t, err)
	require.Equal(t, order.ID, again.ID)

	var count int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreateOrderReusesConcurrentlyImportedOrder(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	// winner committed by a concurrent import before the mapping was bound
	winner := models.Order{
		ID:            uuid.New(),
		IntegrationID: h.integration.ID,
		Code:          "ORD-110",
		PartnerID:     uuid.New(),
		PricelistID:   uuid.New(),
		Currency:      "EUR",
		State:         "draft",
		AmountTotal:   decimal.NewFromInt(100),
	}
	require.NoError(t, h.conn.Create(&winner).Error)

	payload := basePayload("ORD-110")
	payload.Billing = &platform.AddressPayload{Street: "2 Rue Sud", City: "Lyon", Zip: "69002", Country: "FR"}

	order, err := h.svc.CreateOrder(ctx, h.integration, payload)
	require.NoError(t, err)
	require.Equal(t, winner.ID, order.ID)

	var orderCount int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&orderCount).Error)
	require.Equal(t, int64(1), orderCount)

	// the losing attempt's address rows roll back with its transaction
	var addressCount int64
	require.NoError(t, h.conn.Model(&models.Address{}).Count(&addressCount).Error)
	require.Equal(t, int64(0), addressCount)
}

func TestCreateOrderWithoutFallbackRejectsUnknownProduct(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()

	// deleted variant: neither mapped nor served by the live re-import
	_, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ABC"))
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	var orderCount, mappingCount int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&orderCount).Error)
	require.Equal(t, int64(0), orderCount)
	require.NoError(t, h.conn.Model(&models.Mapping{}).
		Where("entity_type = ?", enums.EntityOrder).
		Count(&mappingCount).Error)
	require.Equal(t, int64(0), mappingCount)
}

func TestCreateOrderResolvesProductViaLiveReimport(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()

	// internal product exists but was never mapped; the adapter exposes the
	// variant whose SKU matches its default code
	product := models.Product{ID: uuid.New(), Name: "Canvas Tote", DefaultCode: "TOTE-001"}
	require.NoError(t, h.conn.Create(&product).Error)
	h.adapter.templates = []platform.TemplateRecord{{
		ID:   "TPL-1",
		Name: "Canvas Tote",
		Variants: []platform.VariantRecord{
			{ID: "VAR-1", SKU: "TOTE-001", Name: "Canvas Tote"},
		},
	}}

	order, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-101"))
	require.NoError(t, err)
	require.NotNil(t, order.Lines[0].ProductID)
	require.Equal(t, product.ID, *order.Lines[0].ProductID)
}

func TestCreateOrderFallsBackToConfiguredProduct(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()

	fallback := models.Product{ID: uuid.New(), Name: "Unmatched import"}
	require.NoError(t, h.conn.Create(&fallback).Error)
	h.integration.FallbackProductID = &fallback.ID

	order, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-102"))
	require.NoError(t, err)
	require.NotNil(t, order.Lines[0].ProductID)
	require.Equal(t, fallback.ID, *order.Lines[0].ProductID)
}

func TestCreateOrderSkipsWhenCancelPending(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	_, _, err := h.jobs.Schedule(ctx, jobs.ScheduleInput{
		IntegrationID: h.integration.ID,
		Operation:     enums.JobOrderCancel,
		Code:          "ORD-103",
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	order, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-103"))
	require.NoError(t, err)
	require.Nil(t, order)

	var count int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestCreateOrderBlocksOnUnmappedTax(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	payload := basePayload("ORD-104")
	payload.Lines[0].TaxCodes = []string{"VAT-20"}

	_, err := h.svc.CreateOrder(ctx, h.integration, payload)
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotMappedFromExternal))

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.NotNil(t, typed.Mapping())
	require.Equal(t, "VAT-20", typed.Mapping().Code)
}

func TestCreateOrderAppendsSyntheticLines(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	giftWrap := models.Product{ID: uuid.New(), Name: "Gift wrap"}
	diffProduct := models.Product{ID: uuid.New(), Name: "Rounding difference"}
	require.NoError(t, h.conn.Create(&giftWrap).Error)
	require.NoError(t, h.conn.Create(&diffProduct).Error)
	h.integration.GiftWrapProductID = &giftWrap.ID
	h.integration.GiftWrapTaxIncluded = true
	h.integration.TotalDifferenceCorrection = true
	h.integration.PositiveDifferenceProductID = &diffProduct.ID

	payload := basePayload("ORD-105")
	payload.Delivery = &platform.DeliveryPayload{
		CarrierCode: "colissimo",
		CarrierName: "Colissimo",
		Price:       decimal.NewFromInt(10),
	}
	payload.GiftWrap = &platform.GiftWrapPayload{
		PriceTaxIncl: decimal.NewFromInt(5),
		PriceTaxExcl: decimal.NewFromInt(4),
	}
	// zero discount-tax difference collapses to one untaxed line of -20
	payload.Discount = &platform.AggregateDiscount{
		TotalTaxIncl: decimal.NewFromInt(20),
		TotalTaxExcl: decimal.NewFromInt(20),
	}
	// computed: 100 + 10 + 5 - 20 = 95, platform says 100 → +5 correction
	payload.AmountTotal = decimal.NewFromInt(100)

	order, err := h.svc.CreateOrder(ctx, h.integration, payload)
	require.NoError(t, err)

	byKind := map[enums.OrderLineKind]models.OrderLine{}
	for _, line := range order.Lines {
		byKind[line.Kind] = line
	}
	require.Len(t, order.Lines, 5)
	require.True(t, byKind[enums.LineDelivery].PriceUnit.Equal(decimal.NewFromInt(10)))
	require.Equal(t, "Colissimo", byKind[enums.LineDelivery].Name)
	require.True(t, byKind[enums.LineGiftWrap].PriceUnit.Equal(decimal.NewFromInt(5)))
	require.True(t, byKind[enums.LineDiscount].PriceUnit.Equal(decimal.NewFromInt(-20)))
	require.Empty(t, []string(byKind[enums.LineDiscount].TaxIDs))
	require.True(t, byKind[enums.LineDifference].PriceUnit.Equal(decimal.NewFromInt(5)))
	require.Equal(t, diffProduct.ID, *byKind[enums.LineDifference].ProductID)

	// the auto-created carrier is mapped for the next order
	carrierID, err := h.mapping.ToInternal(ctx, h.integration.ID, enums.EntityCarrier, "colissimo", true)
	require.NoError(t, err)
	require.NotNil(t, carrierID)
}

func TestCreateOrderDifferenceRequiresConfiguredProduct(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")
	h.integration.TotalDifferenceCorrection = true

	payload := basePayload("ORD-106")
	payload.AmountTotal = decimal.NewFromInt(110)

	_, err := h.svc.CreateOrder(ctx, h.integration, payload)
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAPIImport))
}

func TestCreateOrderAllocatesFulfillmentGroups(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	locA := models.Location{ID: uuid.New(), Name: "Warehouse A", Code: "WH-A"}
	locB := models.Location{ID: uuid.New(), Name: "Warehouse B", Code: "WH-B"}
	require.NoError(t, h.conn.Create(&locA).Error)
	require.NoError(t, h.conn.Create(&locB).Error)

	payload := basePayload("ORD-107")
	payload.Lines[0].Quantity = decimal.NewFromInt(10)
	payload.AmountTotal = decimal.NewFromInt(500)
	payload.FulfillmentGroups = []platform.FulfillmentGroup{
		{LocationCode: "WH-A", Lines: []platform.GroupLine{{LineID: "L1", Quantity: decimal.NewFromInt(4)}}},
		{LocationCode: "WH-B", Lines: []platform.GroupLine{{LineID: "L1", Quantity: decimal.NewFromInt(3)}}},
	}

	order, err := h.svc.CreateOrder(ctx, h.integration, payload)
	require.NoError(t, err)
	require.Len(t, order.Lines, 3)

	quantities := map[string]string{}
	var unassignedQty decimal.Decimal
	for _, line := range order.Lines {
		if line.LocationID == nil {
			unassignedQty = line.Quantity
			continue
		}
		quantities[line.LocationID.String()] = line.Quantity.String()
	}
	require.Equal(t, "4", quantities[locA.ID.String()])
	require.Equal(t, "3", quantities[locB.ID.String()])
	require.True(t, unassignedQty.Equal(decimal.NewFromInt(3)))
}

func TestUpdateOrderStateAndCancel(t *testing.T) {
	h := newImportHarness(t)
	ctx := context.Background()
	h.mapProduct(t, "TPL-1-VAR-1", "Canvas Tote")

	status := models.OrderStatus{ID: uuid.New(), Name: "Shipped", Code: "done"}
	require.NoError(t, h.conn.Create(&status).Error)

	order, err := h.svc.CreateOrder(ctx, h.integration, basePayload("ORD-108"))
	require.NoError(t, err)

	payload := basePayload("ORD-108")
	payload.StateCode = "done"
	updated, err := h.svc.UpdateOrderState(ctx, h.integration, payload)
	require.NoError(t, err)
	require.Equal(t, "done", updated.State)
	require.Equal(t, status.ID, *updated.StatusID)

	canceled, err := h.svc.CancelOrder(ctx, h.integration, "ORD-108")
	require.NoError(t, err)
	require.Equal(t, order.ID, canceled.ID)
	require.Equal(t, "canceled", canceled.State)

	// canceling twice or canceling an unknown order is harmless
	_, err = h.svc.CancelOrder(ctx, h.integration, "ORD-108")
	require.NoError(t, err)
	missing, err := h.svc.CancelOrder(ctx, h.integration, "ORD-999")
	require.NoError(t, err)
	require.Nil(t, missing)
}
