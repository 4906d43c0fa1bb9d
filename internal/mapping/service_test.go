package mapping

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

func setupMappingTestDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  default_code TEXT,
  list_price TEXT NOT NULL DEFAULT '0',
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(s.db)
}

type stubRequeuer struct {
	calls []string
	count int64
}

func (s *stubRequeuer) RequeueBlocked(_ context.Context, _ uuid.UUID, kind enums.EntityType, code string) (int64, error) {
	s.calls = append(s.calls, string(kind)+":"+code)
	return s.count, nil
}

func newTestService(t *testing.T) (Service, *gorm.DB, *stubRequeuer) {
	t.Helper()
	conn := setupMappingTestDB(t)
	requeue := &stubRequeuer{}
	svc, err := NewService(ServiceParams{
		Repo:            NewRepository(conn),
		Tx:              &stubTxRunner{db: conn},
		Jobs:            requeue,
		Logger:          logger.New(logger.Options{ServiceName: "test"}),
		IntegrationName: "test-shop",
	})
	require.NoError(t, err)
	return svc, conn, requeue
}

func TestGetOrCreateExternalUpsertsByScopeAndCode(t *testing.T) {
	svc, _, requeue := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()

	first, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-1", ExternalAttrs{Name: "Widget", Reference: "WID-1"})
	require.NoError(t, err)
	require.Equal(t, "Widget", first.Name)

	second, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-1", ExternalAttrs{Name: "Widget v2"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Widget v2", second.Name)
	// attributes not present in the update are preserved
	require.Equal(t, "WID-1", second.Reference)

	// every create/update fires the requeue trigger
	require.Len(t, requeue.calls, 2)
}

func TestMappingForReturnsNilWhenUnpaired(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()

	_, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityOrder, "ORD-9", ExternalAttrs{})
	require.NoError(t, err)

	record, err := svc.MappingFor(ctx, scope, enums.EntityOrder, "ORD-9")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestMappingForUnknownCodeIsNoExternal(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.MappingFor(context.Background(), uuid.New(), enums.EntityOrder, "NOPE")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNoExternal))
}

func TestCreateOrUpdateMappingThreeWayContract(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()
	internal := uuid.New()

	_, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-2", ExternalAttrs{})
	require.NoError(t, err)

	// KeepBinding creates the row unmapped
	record, err := svc.CreateOrUpdateMapping(ctx, scope, enums.EntityProduct, "SQ-2", KeepBinding())
	require.NoError(t, err)
	require.Nil(t, record.InternalID)

	// BindTo sets the binding
	record, err = svc.CreateOrUpdateMapping(ctx, scope, enums.EntityProduct, "SQ-2", BindTo(internal))
	require.NoError(t, err)
	require.NotNil(t, record.InternalID)
	require.Equal(t, internal, *record.InternalID)

	// KeepBinding leaves an existing binding untouched
	record, err = svc.CreateOrUpdateMapping(ctx, scope, enums.EntityProduct, "SQ-2", KeepBinding())
	require.NoError(t, err)
	require.NotNil(t, record.InternalID)

	// ClearBinding unmaps
	record, err = svc.CreateOrUpdateMapping(ctx, scope, enums.EntityProduct, "SQ-2", ClearBinding())
	require.NoError(t, err)
	require.Nil(t, record.InternalID)
}

func TestRoundTripMapping(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()
	internal := uuid.New()

	_, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityTax, "TAX-21", ExternalAttrs{Name: "VAT 21"})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdateMapping(ctx, scope, enums.EntityTax, "TAX-21", BindTo(internal))
	require.NoError(t, err)

	resolved, err := svc.ToInternal(ctx, scope, enums.EntityTax, "TAX-21", true)
	require.NoError(t, err)
	require.Equal(t, internal, *resolved)

	code, err := svc.ToExternalCode(ctx, scope, enums.EntityTax, *resolved, true)
	require.NoError(t, err)
	require.Equal(t, "TAX-21", code)
}

func TestToInternalDistinguishesMissingFromUnmapped(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()

	// never seen at all
	_, err := svc.ToInternal(ctx, scope, enums.EntityProduct, "GHOST", true)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNoExternal))

	// seen but unpaired
	_, err = svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-3", ExternalAttrs{})
	require.NoError(t, err)
	_, err = svc.ToInternal(ctx, scope, enums.EntityProduct, "SQ-3", true)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotMappedFromExternal))

	// not required: both miss flavors resolve to nil
	resolved, err := svc.ToInternal(ctx, scope, enums.EntityProduct, "SQ-3", false)
	require.NoError(t, err)
	require.Nil(t, resolved)
}

func TestToExternalCodeMissIsNotExported(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ToExternalCode(context.Background(), uuid.New(), enums.EntityProduct, uuid.New(), true)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotMappedToExternal))
}

func TestTryMapByReferenceBindsSingleMatch(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()

	productID := uuid.New()
	require.NoError(t, conn.Exec(
		`INSERT INTO products (id, name, default_code) VALUES (?, ?, ?)`,
		productID, "Internal Widget", "wid-1").Error)

	ext, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-4", ExternalAttrs{Reference: "WID-1"})
	require.NoError(t, err)

	resolved, err := svc.TryMapByReference(ctx, ext, nil)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.Equal(t, productID, *resolved)

	// the binding persisted
	viaMapping, err := svc.ToInternal(ctx, scope, enums.EntityProduct, "SQ-4", true)
	require.NoError(t, err)
	require.Equal(t, productID, *viaMapping)
}

func TestTryMapByReferenceAmbiguousMatchNamesCandidates(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()

	for _, name := range []string{"Widget A", "Widget B"} {
		require.NoError(t, conn.Exec(
			`INSERT INTO products (id, name, default_code) VALUES (?, ?, ?)`,
			uuid.New(), name, "DUP-1").Error)
	}

	ext, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityProduct, "SQ-5", ExternalAttrs{Reference: "DUP-1"})
	require.NoError(t, err)

	_, err = svc.TryMapByReference(ctx, ext, nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUser))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed.Details())
}

func TestUnmapClearsBindings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := uuid.New()
	internal := uuid.New()

	_, err := svc.GetOrCreateExternal(ctx, scope, enums.EntityCarrier, "CAR-1", ExternalAttrs{})
	require.NoError(t, err)
	_, err = svc.CreateOrUpdateMapping(ctx, scope, enums.EntityCarrier, "CAR-1", BindTo(internal))
	require.NoError(t, err)

	require.NoError(t, svc.Unmap(ctx, scope, enums.EntityCarrier))

	_, err = svc.ToInternal(ctx, scope, enums.EntityCarrier, "CAR-1", true)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotMappedFromExternal))
}
