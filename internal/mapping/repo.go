package mapping

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// InternalCandidate is one internal record matched by reference, carried in
// duplicate errors so the operator message can name every candidate.
type InternalCandidate struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Repository persists external mirrors and mapping rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindExternals(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) ([]models.ExternalRecord, error)
	FindExternalsByReference(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, reference string) ([]models.ExternalRecord, error)
	CreateExternal(ctx context.Context, record *models.ExternalRecord) error
	UpdateExternal(ctx context.Context, record *models.ExternalRecord) error

	FindMappingByExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, externalRecordID uuid.UUID) (*models.Mapping, error)
	FindMappingByInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalID uuid.UUID) (*models.Mapping, error)
	CreateMapping(ctx context.Context, record *models.Mapping) error
	SetMappingInternalID(ctx context.Context, mappingID uuid.UUID, internalID *uuid.UUID) error
	ClearBindings(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalIDs []uuid.UUID) error

	FindInternalByReference(ctx context.Context, kind enums.EntityType, reference string) ([]InternalCandidate, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a mapping repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindExternals(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) ([]models.ExternalRecord, error) {
	var records []models.ExternalRecord
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ? AND code = ?", integrationID, kind, code).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) FindExternalsByReference(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, reference string) ([]models.ExternalRecord, error) {
	var records []models.ExternalRecord
	err := r.db.WithContext(ctx).
		Where("integration_id = ? AND entity_type = ? AND LOWER(reference) = LOWER(?)", integrationID, kind, reference).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) CreateExternal(ctx context.Context, record *models.ExternalRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateExternal(ctx context.Context, record *models.ExternalRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *repository) FindMappingByExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, externalRecordID uuid.UUID) (*models.Mapping, error) {
	var record models.Mapping
	err := r.db.WithContext(ctx).
		Preload("ExternalRecord").
		Where("integration_id = ? AND entity_type = ? AND external_record_id = ?", integrationID, kind, externalRecordID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindMappingByInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalID uuid.UUID) (*models.Mapping, error) {
	var record models.Mapping
	err := r.db.WithContext(ctx).
		Preload("ExternalRecord").
		Where("integration_id = ? AND entity_type = ? AND internal_id = ?", integrationID, kind, internalID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) CreateMapping(ctx context.Context, record *models.Mapping) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) SetMappingInternalID(ctx context.Context, mappingID uuid.UUID, internalID *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Mapping{}).
		Where("id = ?", mappingID).
		Update("internal_id", internalID).Error
}

func (r *repository) ClearBindings(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, internalIDs []uuid.UUID) error {
	query := r.db.WithContext(ctx).
		Model(&models.Mapping{}).
		Where("integration_id = ? AND entity_type = ?", integrationID, kind)
	if len(internalIDs) > 0 {
		query = query.Where("internal_id IN ?", internalIDs)
	}
	return query.Update("internal_id", nil).Error
}

// FindInternalByReference dispatches the reference lookup on the entity
// kind. Matching is case-insensitive; unknown kinds match nothing.
func (r *repository) FindInternalByReference(ctx context.Context, kind enums.EntityType, reference string) ([]InternalCandidate, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}

	var candidates []InternalCandidate
	db := r.db.WithContext(ctx)

	switch kind {
	case enums.EntityProduct, enums.EntityTemplate:
		err := db.Model(&models.Product{}).
			Select("id, name").
			Where("LOWER(default_code) = LOWER(?)", reference).
			Scan(&candidates).Error
		return candidates, err
	case enums.EntityCarrier:
		err := db.Model(&models.Carrier{}).
			Select("id, name").
			Where("LOWER(reference) = LOWER(?)", reference).
			Scan(&candidates).Error
		return candidates, err
	case enums.EntityCustomer:
		err := db.Model(&models.Partner{}).
			Select("id, name").
			Where("LOWER(reference) = LOWER(?) OR LOWER(email) = LOWER(?)", reference, reference).
			Scan(&candidates).Error
		return candidates, err
	case enums.EntityLocation:
		err := db.Model(&models.Location{}).
			Select("id, name").
			Where("LOWER(code) = LOWER(?)", reference).
			Scan(&candidates).Error
		return candidates, err
	default:
		return nil, nil
	}
}
