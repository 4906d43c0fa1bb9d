package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Fulfillment is one shipment event reported by the platform for an order.
type Fulfillment struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID uuid.UUID `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_fulfillments_scope_code,priority:1"`
	Code          string    `gorm:"column:code;not null;uniqueIndex:ux_fulfillments_scope_code,priority:2"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	PlatformStatus string                          `gorm:"column:platform_status"`
	InternalStatus enums.FulfillmentInternalStatus `gorm:"column:internal_status;type:text;not null;default:'draft'"`

	TrackingNumber  string  `gorm:"column:tracking_number"`
	TrackingCarrier string  `gorm:"column:tracking_carrier"`
	TrackingURL     string  `gorm:"column:tracking_url"`
	InternalInfo    *string `gorm:"column:internal_info"`

	Lines []FulfillmentLine `gorm:"foreignKey:FulfillmentID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// FulfillmentLine is one (external line code, quantity) pair of a shipment.
type FulfillmentLine struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FulfillmentID uuid.UUID       `gorm:"column:fulfillment_id;type:uuid;not null;index"`
	ExternalLine  string          `gorm:"column:external_line;not null"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(16,3);not null"`
}
