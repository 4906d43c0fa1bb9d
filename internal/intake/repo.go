package intake

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
)

// Repository loads integrations and their webhook routing.
type Repository interface {
	FindIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	ListActiveIntegrations(ctx context.Context) ([]models.Integration, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an intake repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	var integration models.Integration
	err := r.db.WithContext(ctx).
		Preload("WebhookLines").
		Where("id = ?", id).
		First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (r *repository) ListActiveIntegrations(ctx context.Context) ([]models.Integration, error) {
	var integrations []models.Integration
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name").
		Find(&integrations).Error
	if err != nil {
		return nil, err
	}
	return integrations, nil
}
