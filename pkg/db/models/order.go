package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the internal order materialized from one external order payload.
// Exactly one Order exists per external code within an integration.
type Order struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID uuid.UUID `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_orders_scope_code,priority:1"`
	Code          string    `gorm:"column:code;not null;uniqueIndex:ux_orders_scope_code,priority:2"`

	PartnerID         uuid.UUID  `gorm:"column:partner_id;type:uuid;not null"`
	ShippingAddressID *uuid.UUID `gorm:"column:shipping_address_id;type:uuid"`
	BillingAddressID  *uuid.UUID `gorm:"column:billing_address_id;type:uuid"`
	PricelistID       uuid.UUID  `gorm:"column:pricelist_id;type:uuid;not null"`
	PaymentMethodID   *uuid.UUID `gorm:"column:payment_method_id;type:uuid"`
	StatusID          *uuid.UUID `gorm:"column:status_id;type:uuid"`

	Currency    string          `gorm:"column:currency;not null"`
	State       string          `gorm:"column:state;not null;default:'draft'"`
	AmountTotal decimal.Decimal `gorm:"column:amount_total;type:numeric(16,2);not null"`

	// InternalInfo carries degradation notes from the allocators (short
	// fulfillment quantities, discount fallback), never errors.
	InternalInfo *string `gorm:"column:internal_info"`

	// RawPayload keeps the normalized input the order was built from so job
	// execution stays replayable.
	RawPayload json.RawMessage `gorm:"column:raw_payload;type:jsonb"`

	Lines []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
