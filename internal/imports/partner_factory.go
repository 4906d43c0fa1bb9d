package imports

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
)

// PartnerResult is the outcome of the partner factory. Address rows are
// built but not persisted; the pipeline writes them inside the order
// transaction.
type PartnerResult struct {
	Partner  *models.Partner
	Billing  *models.Address
	Shipping *models.Address
}

// PartnerFactory turns the payload's customer and address blocks into an
// internal partner plus address rows.
type PartnerFactory interface {
	Resolve(ctx context.Context, integration *models.Integration, customer platform.CustomerPayload, billing, shipping *platform.AddressPayload) (*PartnerResult, error)
}

type defaultPartnerFactory struct {
	repo    Repository
	mapping mapper
}

// NewPartnerFactory builds the default factory: mapped partner first, then a
// partner created from the payload, then the integration's default customer.
func NewPartnerFactory(repo Repository, mappingSvc mapper) PartnerFactory {
	return &defaultPartnerFactory{repo: repo, mapping: mappingSvc}
}

func (f *defaultPartnerFactory) Resolve(ctx context.Context, integration *models.Integration, customer platform.CustomerPayload, billing, shipping *platform.AddressPayload) (*PartnerResult, error) {
	partnerID, err := f.resolvePartnerID(ctx, integration, customer)
	if err != nil {
		return nil, err
	}
	if partnerID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAPIImport,
			fmt.Sprintf("no usable customer data on order and no default customer configured on integration %q", integration.Name))
	}

	partner, err := f.repo.FindPartnerByID(ctx, *partnerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partner")
	}

	result := &PartnerResult{Partner: partner}
	if billing != nil {
		result.Billing = addressRow(partner.ID, *billing)
	}
	if shipping != nil {
		result.Shipping = addressRow(partner.ID, *shipping)
	}
	return result, nil
}

func (f *defaultPartnerFactory) resolvePartnerID(ctx context.Context, integration *models.Integration, customer platform.CustomerPayload) (*uuid.UUID, error) {
	if customer.Code != "" {
		ext, err := f.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityCustomer, customer.Code, mapping.ExternalAttrs{
			Name:      customer.Name,
			Reference: customer.Email,
		})
		if err != nil {
			return nil, err
		}
		id, err := f.mapping.TryMapByReference(ctx, ext, nil)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	// Unmapped buyer with usable payload data becomes a new partner, bound
	// so the next order from the same buyer resolves directly.
	if customer.Name != "" || customer.Email != "" {
		partner := &models.Partner{
			ID:        uuid.New(),
			Name:      partnerName(customer),
			Email:     customer.Email,
			Reference: customer.Code,
		}
		if err := f.repo.CreatePartner(ctx, partner); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create partner")
		}
		if customer.Code != "" {
			if _, err := f.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityCustomer, customer.Code, mapping.BindTo(partner.ID)); err != nil {
				return nil, err
			}
		}
		return &partner.ID, nil
	}

	return integration.DefaultCustomerID, nil
}

func partnerName(customer platform.CustomerPayload) string {
	if customer.Name != "" {
		return customer.Name
	}
	return customer.Email
}

func addressRow(partnerID uuid.UUID, payload platform.AddressPayload) *models.Address {
	return &models.Address{
		ID:        uuid.New(),
		PartnerID: partnerID,
		Street:    payload.Street,
		City:      payload.City,
		Zip:       payload.Zip,
		Country:   payload.Country,
	}
}
