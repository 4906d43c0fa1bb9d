package fulfillments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Repository persists shipment events and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, integrationID uuid.UUID, code string) (*models.Fulfillment, error)
	Create(ctx context.Context, fulfillment *models.Fulfillment) error
	Update(ctx context.Context, fulfillment *models.Fulfillment) error
	SetInternalStatus(ctx context.Context, id uuid.UUID, status enums.FulfillmentInternalStatus, info *string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a fulfillments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByCode(ctx context.Context, integrationID uuid.UUID, code string) (*models.Fulfillment, error) {
	var fulfillment models.Fulfillment
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("integration_id = ? AND code = ?", integrationID, code).
		First(&fulfillment).Error
	if err != nil {
		return nil, err
	}
	return &fulfillment, nil
}

func (r *repository) Create(ctx context.Context, fulfillment *models.Fulfillment) error {
	return r.db.WithContext(ctx).Create(fulfillment).Error
}

func (r *repository) Update(ctx context.Context, fulfillment *models.Fulfillment) error {
	return r.db.WithContext(ctx).Save(fulfillment).Error
}

func (r *repository) SetInternalStatus(ctx context.Context, id uuid.UUID, status enums.FulfillmentInternalStatus, info *string) error {
	updates := map[string]any{"internal_status": status}
	if info != nil {
		updates["internal_info"] = info
	}
	return r.db.WithContext(ctx).
		Model(&models.Fulfillment{}).
		Where("id = ?", id).
		Updates(updates).Error
}
