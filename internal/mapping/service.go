package mapping

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// requeuer re-enqueues jobs that failed on a missing mapping. Every
// successful create/update on a mirror or mapping fires it, turning
// "mapping completed" into the recovery trigger for stuck imports.
type requeuer interface {
	RequeueBlocked(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (int64, error)
}

// ReferenceLookup overrides the default internal-record lookup used by
// TryMapByReference. It returns every candidate matching the reference.
type ReferenceLookup func(ctx context.Context, reference string) ([]InternalCandidate, error)

// ExternalAttrs are the mirror attributes captured from the platform.
type ExternalAttrs struct {
	Name      string
	Reference string
	Payload   json.RawMessage
}

// Binding expresses the three-way createOrUpdateMapping contract.
type Binding struct {
	set        bool
	internalID *uuid.UUID
}

// KeepBinding ensures a mapping row exists without touching its binding.
func KeepBinding() Binding { return Binding{} }

// BindTo binds or rebinds the mapping to the given internal record.
func BindTo(id uuid.UUID) Binding { return Binding{set: true, internalID: &id} }

// ClearBinding reverts the mapping to unmapped.
func ClearBinding() Binding { return Binding{set: true} }

// Service is the identity mapping engine.
type Service interface {
	GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs ExternalAttrs) (*models.ExternalRecord, error)
	MappingFor(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (*models.Mapping, error)
	TryMapByReference(ctx context.Context, ext *models.ExternalRecord, lookup ReferenceLookup) (*uuid.UUID, error)
	CreateOrUpdateMapping(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, binding Binding) (*models.Mapping, error)
	ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error)
	ToExternalCode(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalID uuid.UUID, required bool) (string, error)
	Unmap(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalIDs ...uuid.UUID) error
}

// ServiceParams collects the mapping service dependencies.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Jobs   requeuer
	Logger *logger.Logger

	// IntegrationName is the display name used in operator-facing errors.
	IntegrationName string
}

type service struct {
	repo   Repository
	tx     txRunner
	jobs   requeuer
	logger *logger.Logger
	integr string
}

// NewService builds the mapping engine with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("mapping repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("job requeuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		jobs:   params.Jobs,
		logger: params.Logger,
		integr: params.IntegrationName,
	}, nil
}

// GetOrCreateExternal upserts the mirror row for (scope, kind, code).
// Concurrent creates race on the unique index and the loser retries as an
// update.
func (s *service) GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs ExternalAttrs) (*models.ExternalRecord, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external code required")
	}
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown entity type %q", kind))
	}

	var out *models.ExternalRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindExternals(ctx, integrationID, kind, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find external record")
		}
		if len(existing) > 1 {
			return multipleExternals(kind, code, s.integr, existing)
		}
		if len(existing) == 1 {
			record := existing[0]
			applyAttrs(&record, attrs)
			if err := repo.UpdateExternal(ctx, &record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update external record")
			}
			out = &record
			return nil
		}

		record := models.ExternalRecord{
			ID:            uuid.New(),
			IntegrationID: integrationID,
			EntityType:    kind,
			Code:          code,
		}
		applyAttrs(&record, attrs)
		if err := repo.CreateExternal(ctx, &record); err != nil {
			if db.IsUniqueViolation(err, "ux_external_records_scope_code") {
				return s.retryAsUpdate(ctx, repo, integrationID, kind, code, attrs, &out)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create external record")
		}
		out = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.requeue(ctx, integrationID, kind, code)
	return out, nil
}

func (s *service) retryAsUpdate(ctx context.Context, repo Repository, integrationID uuid.UUID, kind enums.EntityType, code string, attrs ExternalAttrs, out **models.ExternalRecord) error {
	existing, err := repo.FindExternals(ctx, integrationID, kind, code)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refetch external record")
	}
	if len(existing) == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "external record vanished after unique violation")
	}
	record := existing[0]
	applyAttrs(&record, attrs)
	if err := repo.UpdateExternal(ctx, &record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update external record")
	}
	*out = &record
	return nil
}

func applyAttrs(record *models.ExternalRecord, attrs ExternalAttrs) {
	if attrs.Name != "" {
		record.Name = attrs.Name
	}
	if attrs.Reference != "" {
		record.Reference = attrs.Reference
	}
	if len(attrs.Payload) > 0 {
		record.Payload = attrs.Payload
	}
}

// MappingFor looks up the mapping row for (scope, kind, code), trying the
// code first and the reference second. A nil mapping with nil error means
// the mirror exists but was never paired.
func (s *service) MappingFor(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (*models.Mapping, error) {
	ext, err := s.findSingleExternal(ctx, s.repo, integrationID, kind, code)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, pkgerrors.NoExternal(string(kind), code, s.integr)
	}

	record, err := s.repo.FindMappingByExternal(ctx, integrationID, kind, ext.ID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find mapping")
	}
	return record, nil
}

func (s *service) findSingleExternal(ctx context.Context, repo Repository, integrationID uuid.UUID, kind enums.EntityType, code string) (*models.ExternalRecord, error) {
	records, err := repo.FindExternals(ctx, integrationID, kind, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find external record")
	}
	if len(records) == 0 {
		byRef, err := repo.FindExternalsByReference(ctx, integrationID, kind, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find external record by reference")
		}
		records = byRef
	}
	if len(records) > 1 {
		return nil, multipleExternals(kind, code, s.integr, records)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// TryMapByReference resolves an unmapped mirror to an internal record by its
// reference. An existing binding always wins. More than one internal match
// is an operator problem, surfaced with every candidate named.
func (s *service) TryMapByReference(ctx context.Context, ext *models.ExternalRecord, lookup ReferenceLookup) (*uuid.UUID, error) {
	if ext == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external record required")
	}

	existing, err := s.repo.FindMappingByExternal(ctx, ext.IntegrationID, ext.EntityType, ext.ID)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find mapping")
	}
	if existing != nil && existing.InternalID != nil {
		return existing.InternalID, nil
	}

	if ext.Reference == "" {
		return nil, nil
	}

	var candidates []InternalCandidate
	if lookup != nil {
		candidates, err = lookup(ctx, ext.Reference)
	} else {
		candidates, err = s.repo.FindInternalByReference(ctx, ext.EntityType, ext.Reference)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup internal record by reference")
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		// fall through to bind
	default:
		names := make([]string, 0, len(candidates))
		for _, c := range candidates {
			names = append(names, c.Name)
		}
		return nil, pkgerrors.New(pkgerrors.CodeUser,
			fmt.Sprintf("reference %q matches multiple internal %s records", ext.Reference, ext.EntityType)).
			WithDetails(map[string]any{"candidates": names})
	}

	internalID := candidates[0].ID
	if _, err := s.CreateOrUpdateMapping(ctx, ext.IntegrationID, ext.EntityType, ext.Code, BindTo(internalID)); err != nil {
		return nil, err
	}
	return &internalID, nil
}

// CreateOrUpdateMapping ensures a mapping row exists for (scope, kind, code)
// and applies the binding argument: KeepBinding leaves any existing binding
// untouched, BindTo binds or rebinds, ClearBinding unmaps.
func (s *service) CreateOrUpdateMapping(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, binding Binding) (*models.Mapping, error) {
	var out *models.Mapping
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		ext, err := s.findSingleExternal(ctx, repo, integrationID, kind, code)
		if err != nil {
			return err
		}
		if ext == nil {
			return pkgerrors.NoExternal(string(kind), code, s.integr)
		}

		record, err := repo.FindMappingByExternal(ctx, integrationID, kind, ext.ID)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find mapping")
		}

		if record == nil {
			record = &models.Mapping{
				ID:               uuid.New(),
				IntegrationID:    integrationID,
				EntityType:       kind,
				ExternalRecordID: ext.ID,
			}
			if binding.set {
				record.InternalID = binding.internalID
			}
			if err := repo.CreateMapping(ctx, record); err != nil {
				if !db.IsUniqueViolation(err, "ux_mappings_scope_external") {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create mapping")
				}
				record, err = repo.FindMappingByExternal(ctx, integrationID, kind, ext.ID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refetch mapping")
				}
			}
		}

		if binding.set && !sameBinding(record.InternalID, binding.internalID) {
			if err := repo.SetMappingInternalID(ctx, record.ID, binding.internalID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update mapping binding")
			}
			record.InternalID = binding.internalID
		}

		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.requeue(ctx, integrationID, kind, code)
	return out, nil
}

func sameBinding(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ToInternal resolves an external code to its internal record id.
func (s *service) ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error) {
	ext, err := s.findSingleExternal(ctx, s.repo, integrationID, kind, code)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		if required {
			return nil, pkgerrors.NoExternal(string(kind), code, s.integr)
		}
		return nil, nil
	}

	record, err := s.repo.FindMappingByExternal(ctx, integrationID, kind, ext.ID)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find mapping")
	}
	if record == nil || record.InternalID == nil {
		if required {
			return nil, pkgerrors.NotMapped(string(kind), code, s.integr)
		}
		return nil, nil
	}
	return record.InternalID, nil
}

// ToExternalCode resolves an internal record id to its platform code.
func (s *service) ToExternalCode(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalID uuid.UUID, required bool) (string, error) {
	record, err := s.repo.FindMappingByInternal(ctx, integrationID, kind, internalID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			if required {
				return "", pkgerrors.NotExported(string(kind), internalID.String(), s.integr)
			}
			return "", nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find mapping by internal id")
	}
	if record.ExternalRecord == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "mapping row without external record")
	}
	return record.ExternalRecord.Code, nil
}

// Unmap clears bindings for the given internal ids, or every binding in
// scope when none are given. The mirror rows stay.
func (s *service) Unmap(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalIDs ...uuid.UUID) error {
	if err := s.repo.ClearBindings(ctx, integrationID, kind, internalIDs); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear mapping bindings")
	}
	return nil
}

func (s *service) requeue(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) {
	count, err := s.jobs.RequeueBlocked(ctx, integrationID, kind, code)
	if err != nil {
		s.logger.Error(ctx, "requeue of blocked jobs failed", err)
		return
	}
	if count > 0 {
		ctx = s.logger.WithFields(ctx, map[string]any{
			"entity_type": kind,
			"code":        code,
			"requeued":    count,
		})
		s.logger.Info(ctx, "blocked jobs re-enqueued after mapping change")
	}
}

func multipleExternals(kind enums.EntityType, code, integration string, records []models.ExternalRecord) error {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID.String())
	}
	return pkgerrors.New(pkgerrors.CodeMultipleExternalRecords,
		fmt.Sprintf("%d external %s records match %q on integration %q", len(records), kind, code, integration)).
		WithDetails(map[string]any{"record_ids": ids})
}
