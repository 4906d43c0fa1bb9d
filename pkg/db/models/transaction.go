package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Transaction is one external payment or refund event tied to an order.
// Applied at most once per (integration, external_str_id).
type Transaction struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID uuid.UUID `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_transactions_scope_external,priority:1"`
	ExternalStrID string    `gorm:"column:external_str_id;not null;uniqueIndex:ux_transactions_scope_external,priority:2"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`

	Kind     enums.TransactionKind `gorm:"column:kind;type:text;not null"`
	Amount   decimal.Decimal       `gorm:"column:amount;type:numeric(16,2);not null"`
	Currency string                `gorm:"column:currency;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
