package fulfillments

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// orderResolver maps the payload's order code to the internal order.
type orderResolver interface {
	ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error)
}

// Service applies shipment events reported by the platform. Each fulfillment
// code is applied at most once per integration.
type Service interface {
	Apply(ctx context.Context, integration *models.Integration, payload platform.FulfillmentPayload) (*models.Fulfillment, error)
	Cancel(ctx context.Context, integration *models.Integration, code string) error
}

// ServiceParams collects the fulfillment service dependencies.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Mapping orderResolver
	Adapter platform.Adapter
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	tx      txRunner
	mapping orderResolver
	adapter platform.Adapter
	logger  *logger.Logger
}

// NewService builds the fulfillment service. Adapter is optional; without it
// Cancel only updates local state.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("fulfillments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		mapping: params.Mapping,
		adapter: params.Adapter,
		logger:  params.Logger,
	}, nil
}

// Apply records the shipment against its order. An already applied
// fulfillment is returned unchanged; draft and failed ones are retried.
func (s *service) Apply(ctx context.Context, integration *models.Integration, payload platform.FulfillmentPayload) (*models.Fulfillment, error) {
	if integration == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	if payload.Code == "" || payload.OrderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment payload requires code and order code")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id":   integration.ID.String(),
		"fulfillment_code": payload.Code,
		"order_code":       payload.OrderCode,
	})

	// An unmapped order blocks the job until the import completes.
	orderID, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityOrder, payload.OrderCode, true)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByCode(ctx, integration.ID, payload.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.InternalStatus.Applied() {
		s.logger.Info(ctx, "fulfillment already applied")
		return existing, nil
	}

	fulfillment := existing
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if fulfillment == nil {
			fulfillment = &models.Fulfillment{
				ID:            uuid.New(),
				IntegrationID: integration.ID,
				Code:          payload.Code,
			}
		}
		fulfillment.OrderID = *orderID
		fulfillment.PlatformStatus = payload.PlatformStatus
		fulfillment.TrackingNumber = payload.TrackingNumber
		fulfillment.TrackingCarrier = payload.TrackingCarrier
		fulfillment.TrackingURL = payload.TrackingURL
		fulfillment.InternalStatus = enums.FulfillmentDone
		fulfillment.Lines = fulfillmentLines(fulfillment.ID, payload.Lines)

		if existing == nil {
			if err := repo.Create(ctx, fulfillment); err != nil {
				if db.IsUniqueViolation(err, "ux_fulfillments_scope_code") {
					// Concurrent apply won the race; treat as applied.
					winner, findErr := repo.FindByCode(ctx, integration.ID, payload.Code)
					if findErr != nil {
						return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load concurrently applied fulfillment")
					}
					fulfillment = winner
					return nil
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fulfillment")
			}
			return nil
		}
		if err := repo.Update(ctx, fulfillment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update fulfillment")
		}
		return nil
	})
	if err != nil {
		if markErr := s.markFailed(ctx, existing, err); markErr != nil {
			s.logger.Error(ctx, "mark fulfillment failed", markErr)
		}
		return nil, err
	}

	s.logger.Info(ctx, "fulfillment applied")
	return fulfillment, nil
}

// Cancel pushes the cancel to the platform and records it locally.
func (s *service) Cancel(ctx context.Context, integration *models.Integration, code string) error {
	if integration == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id":   integration.ID.String(),
		"fulfillment_code": code,
	})

	fulfillment, err := s.findByCode(ctx, integration.ID, code)
	if err != nil {
		return err
	}
	if fulfillment == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("fulfillment %q unknown", code))
	}

	if s.adapter != nil {
		if err := s.adapter.CancelFulfillment(ctx, code); err != nil {
			return err
		}
	}

	fulfillment.PlatformStatus = "canceled"
	if err := s.repo.Update(ctx, fulfillment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record fulfillment cancel")
	}
	s.logger.Info(ctx, "fulfillment canceled")
	return nil
}

func (s *service) findByCode(ctx context.Context, integrationID uuid.UUID, code string) (*models.Fulfillment, error) {
	fulfillment, err := s.repo.FindByCode(ctx, integrationID, code)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find fulfillment")
	}
	return fulfillment, nil
}

func (s *service) markFailed(ctx context.Context, existing *models.Fulfillment, cause error) error {
	if existing == nil {
		return nil
	}
	info := cause.Error()
	return s.repo.SetInternalStatus(ctx, existing.ID, enums.FulfillmentFailed, &info)
}

func fulfillmentLines(fulfillmentID uuid.UUID, lines []platform.GroupLine) []models.FulfillmentLine {
	out := make([]models.FulfillmentLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, models.FulfillmentLine{
			ID:            uuid.New(),
			FulfillmentID: fulfillmentID,
			ExternalLine:  line.LineID,
			Quantity:      line.Quantity,
		})
	}
	return out
}
