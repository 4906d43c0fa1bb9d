package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tax is an internal tax definition.
type Tax struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string          `gorm:"column:name;not null"`
	AmountPercent decimal.Decimal `gorm:"column:amount_percent;type:numeric(7,4);not null"`
	PriceIncluded bool            `gorm:"column:price_included;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
