package models

import (
	"time"

	"github.com/google/uuid"
)

// Pricelist is an internal pricelist; orders resolve one by the partner's
// assignment or by currency.
type Pricelist struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name     string    `gorm:"column:name;not null"`
	Currency string    `gorm:"column:currency;not null;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
