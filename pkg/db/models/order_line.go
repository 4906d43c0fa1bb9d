package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// OrderLine is one line of an internal order: a product allocation or one of
// the synthetic lines (delivery, gift wrap, discount, difference).
type OrderLine struct {
	ID      uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Kind    enums.OrderLineKind `gorm:"column:kind;type:text;not null;default:'product'"`

	// ExternalLineID ties the line back to the platform's line id; synthetic
	// lines leave it empty.
	ExternalLineID string `gorm:"column:external_line_id"`

	ProductID  *uuid.UUID `gorm:"column:product_id;type:uuid"`
	LocationID *uuid.UUID `gorm:"column:location_id;type:uuid"`

	Name            string          `gorm:"column:name;not null"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:numeric(16,3);not null"`
	PriceUnit       decimal.Decimal `gorm:"column:price_unit;type:numeric(16,2);not null"`
	DiscountPercent decimal.Decimal `gorm:"column:discount_percent;type:numeric(7,4);not null;default:0"`

	// TaxIDs holds internal tax ids as text uuids.
	TaxIDs pq.StringArray `gorm:"column:tax_ids;type:text[]"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
