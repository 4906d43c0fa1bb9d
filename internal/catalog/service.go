package catalog

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

// mirrorStore is the slice of the mapping engine the catalog sync consumes.
type mirrorStore interface {
	GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs mapping.ExternalAttrs) (*models.ExternalRecord, error)
	CreateOrUpdateMapping(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, binding mapping.Binding) (*models.Mapping, error)
}

// statusFinder resolves internal workflow statuses by code.
type statusFinder interface {
	FindStatusByCode(ctx context.Context, code string) (*models.OrderStatus, error)
}

// categoryImporter imports one category batch.
type categoryImporter interface {
	ImportBatch(ctx context.Context, integration *models.Integration, records []platform.CategoryRecord) error
}

// Summary counts what one sync run touched.
type Summary struct {
	Taxes      int
	Statuses   int
	Categories int
}

// Service refreshes the local mirror from the platform catalog: taxes and
// workflow statuses become external records an operator can map, statuses
// with a matching internal code are mapped automatically, and the category
// tree is imported in full.
type Service interface {
	Sync(ctx context.Context, integration *models.Integration) (*Summary, error)
}

// ServiceParams collects the catalog sync dependencies.
type ServiceParams struct {
	Adapter    platform.Adapter
	Mapping    mirrorStore
	Statuses   statusFinder
	Categories categoryImporter
	Logger     *logger.Logger
}

type service struct {
	adapter    platform.Adapter
	mapping    mirrorStore
	statuses   statusFinder
	categories categoryImporter
	logger     *logger.Logger
}

// NewService builds the catalog sync service.
func NewService(params ServiceParams) (Service, error) {
	if params.Adapter == nil {
		return nil, fmt.Errorf("platform adapter required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Statuses == nil {
		return nil, fmt.Errorf("status finder required")
	}
	if params.Categories == nil {
		return nil, fmt.Errorf("category importer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		adapter:    params.Adapter,
		mapping:    params.Mapping,
		statuses:   params.Statuses,
		categories: params.Categories,
		logger:     params.Logger,
	}, nil
}

func (s *service) Sync(ctx context.Context, integration *models.Integration) (*Summary, error) {
	if integration == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	ctx = s.logger.WithIntegrationID(ctx, integration.ID.String())

	summary := &Summary{}

	taxes, err := s.syncTaxes(ctx, integration)
	if err != nil {
		return nil, err
	}
	summary.Taxes = taxes

	statuses, err := s.syncStatuses(ctx, integration)
	if err != nil {
		return nil, err
	}
	summary.Statuses = statuses

	records, err := s.adapter.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.categories.ImportBatch(ctx, integration, records); err != nil {
		return nil, err
	}
	summary.Categories = len(records)

	ctx = s.logger.WithFields(ctx, map[string]any{
		"taxes":      summary.Taxes,
		"statuses":   summary.Statuses,
		"categories": summary.Categories,
	})
	s.logger.Info(ctx, "platform catalog synced")
	return summary, nil
}

// syncTaxes mirrors every platform tax. Taxes are never auto-mapped; the
// mirror gives the operator a named record to complete, and completing it
// requeues any import blocked on the pair.
func (s *service) syncTaxes(ctx context.Context, integration *models.Integration) (int, error) {
	records, err := s.adapter.GetTaxes(ctx)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityTax, record.ID, mapping.ExternalAttrs{
			Name: record.Name,
		}); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// syncStatuses mirrors platform workflow states and maps the ones whose
// code matches an internal status.
func (s *service) syncStatuses(ctx context.Context, integration *models.Integration) (int, error) {
	records, err := s.adapter.GetSaleOrderStatuses(ctx)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityOrderStatus, record.ID, mapping.ExternalAttrs{
			Name:      record.Name,
			Reference: record.Code,
		}); err != nil {
			return 0, err
		}
		if record.Code == "" {
			continue
		}
		status, err := s.statuses.FindStatusByCode(ctx, record.Code)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find internal status")
		}
		if _, err := s.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityOrderStatus, record.ID, mapping.BindTo(status.ID)); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}
