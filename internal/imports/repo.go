package imports

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
)

// Repository persists orders and resolves the internal catalog records the
// pipeline needs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrderByCode(ctx context.Context, integrationID uuid.UUID, code string) (*models.Order, error)
	FindOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CreateLines(ctx context.Context, lines []models.OrderLine) error
	UpdateOrderState(ctx context.Context, orderID uuid.UUID, state string, statusID *uuid.UUID) error
	AppendInternalInfo(ctx context.Context, orderID uuid.UUID, note string) error

	FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindPaymentMethodByName(ctx context.Context, name string) (*models.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	FindPricelistByID(ctx context.Context, id uuid.UUID) (*models.Pricelist, error)
	FindPricelistByCurrency(ctx context.Context, currency string) (*models.Pricelist, error)
	CreatePricelist(ctx context.Context, pricelist *models.Pricelist) error
	FindStatusByCode(ctx context.Context, code string) (*models.OrderStatus, error)
	FindCarrierByReference(ctx context.Context, reference string) (*models.Carrier, error)
	CreateCarrier(ctx context.Context, carrier *models.Carrier) error
	FindTaxesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Tax, error)
	FindPartnerByID(ctx context.Context, id uuid.UUID) (*models.Partner, error)
	CreatePartner(ctx context.Context, partner *models.Partner) error
	CreateAddress(ctx context.Context, address *models.Address) error
	FindLocationByCode(ctx context.Context, code string) (*models.Location, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an imports repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrderByCode(ctx context.Context, integrationID uuid.UUID, code string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("integration_id = ? AND code = ?", integrationID, code).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *repository) UpdateOrderState(ctx context.Context, orderID uuid.UUID, state string, statusID *uuid.UUID) error {
	updates := map[string]any{"state": state}
	if statusID != nil {
		updates["status_id"] = statusID
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// AppendInternalInfo adds a degradation note without clobbering earlier
// ones.
func (r *repository) AppendInternalInfo(ctx context.Context, orderID uuid.UUID, note string) error {
	if note == "" {
		return nil
	}
	var order models.Order
	if err := r.db.WithContext(ctx).Select("id, internal_info").Where("id = ?", orderID).First(&order).Error; err != nil {
		return err
	}
	combined := note
	if order.InternalInfo != nil && *order.InternalInfo != "" {
		combined = *order.InternalInfo + "\n" + note
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("internal_info", combined).Error
}

func (r *repository) FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindPaymentMethodByName(ctx context.Context, name string) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) FindPricelistByID(ctx context.Context, id uuid.UUID) (*models.Pricelist, error) {
	var pricelist models.Pricelist
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pricelist).Error; err != nil {
		return nil, err
	}
	return &pricelist, nil
}

func (r *repository) FindPricelistByCurrency(ctx context.Context, currency string) (*models.Pricelist, error) {
	var pricelist models.Pricelist
	err := r.db.WithContext(ctx).
		Where("currency = ?", currency).
		Order("created_at ASC").
		First(&pricelist).Error
	if err != nil {
		return nil, err
	}
	return &pricelist, nil
}

func (r *repository) CreatePricelist(ctx context.Context, pricelist *models.Pricelist) error {
	return r.db.WithContext(ctx).Create(pricelist).Error
}

func (r *repository) FindStatusByCode(ctx context.Context, code string) (*models.OrderStatus, error) {
	var status models.OrderStatus
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&status).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *repository) FindCarrierByReference(ctx context.Context, reference string) (*models.Carrier, error) {
	var carrier models.Carrier
	err := r.db.WithContext(ctx).
		Where("LOWER(reference) = LOWER(?)", reference).
		First(&carrier).Error
	if err != nil {
		return nil, err
	}
	return &carrier, nil
}

func (r *repository) CreateCarrier(ctx context.Context, carrier *models.Carrier) error {
	return r.db.WithContext(ctx).Create(carrier).Error
}

func (r *repository) FindTaxesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Tax, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var taxes []models.Tax
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&taxes).Error; err != nil {
		return nil, err
	}
	return taxes, nil
}

func (r *repository) FindPartnerByID(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *repository) CreatePartner(ctx context.Context, partner *models.Partner) error {
	return r.db.WithContext(ctx).Create(partner).Error
}

func (r *repository) CreateAddress(ctx context.Context, address *models.Address) error {
	return r.db.WithContext(ctx).Create(address).Error
}

func (r *repository) FindLocationByCode(ctx context.Context, code string) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).
		Where("LOWER(code) = LOWER(?)", code).
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}
