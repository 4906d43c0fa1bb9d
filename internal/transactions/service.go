package transactions

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
	"github.com/lucasferrero/channelsync-backend/pkg/money"
)

type orderResolver interface {
	ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error)
}

// Service records external payment events. Each external transaction id is
// applied at most once per integration.
type Service interface {
	Apply(ctx context.Context, integration *models.Integration, payload platform.TransactionPayload) (*models.Transaction, bool, error)
}

// ServiceParams collects the transaction service dependencies.
type ServiceParams struct {
	Repo    Repository
	Mapping orderResolver
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	mapping orderResolver
	logger  *logger.Logger
}

// NewService builds the transaction service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		mapping: params.Mapping,
		logger:  params.Logger,
	}, nil
}

// Apply records the event; the bool reports whether a row was created. The
// unique index on (integration, external id) makes replays harmless.
func (s *service) Apply(ctx context.Context, integration *models.Integration, payload platform.TransactionPayload) (*models.Transaction, bool, error) {
	if integration == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	if payload.ExternalStrID == "" || payload.OrderCode == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction payload requires external id and order code")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id":  integration.ID.String(),
		"transaction_ref": payload.ExternalStrID,
		"order_code":      payload.OrderCode,
	})

	existing, err := s.findExisting(ctx, integration.ID, payload.ExternalStrID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.logger.Info(ctx, "transaction already applied")
		return existing, false, nil
	}

	orderID, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityOrder, payload.OrderCode, true)
	if err != nil {
		return nil, false, err
	}

	transaction := &models.Transaction{
		ID:            uuid.New(),
		IntegrationID: integration.ID,
		ExternalStrID: payload.ExternalStrID,
		OrderID:       *orderID,
		Kind:          enums.ParseTransactionKind(payload.Kind),
		Amount:        money.Round(payload.Amount),
		Currency:      payload.Currency,
	}
	if err := s.repo.Create(ctx, transaction); err != nil {
		if db.IsUniqueViolation(err, "ux_transactions_scope_external") {
			winner, findErr := s.findExisting(ctx, integration.ID, payload.ExternalStrID)
			if findErr != nil {
				return nil, false, findErr
			}
			return winner, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}

	s.logger.Info(ctx, "transaction applied")
	return transaction, true, nil
}

func (s *service) findExisting(ctx context.Context, integrationID uuid.UUID, externalStrID string) (*models.Transaction, error) {
	transaction, err := s.repo.FindByExternalID(ctx, integrationID, externalStrID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction")
	}
	return transaction, nil
}
