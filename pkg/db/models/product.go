package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is an internal catalog record the connector maps external
// variants onto.
type Product struct {
	ID uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`

	Name string `gorm:"column:name;not null"`

	// DefaultCode is the internal SKU, matched case-insensitively against
	// ExternalRecord.Reference during auto-mapping.
	DefaultCode string `gorm:"column:default_code;index"`

	ListPrice decimal.Decimal `gorm:"column:list_price;type:numeric(16,2);not null;default:0"`
	Active    bool            `gorm:"column:active;not null;default:true"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
