package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is an internal order workflow sub-status, resolved by the
// platform's workflow-state code.
type OrderStatus struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name string    `gorm:"column:name;not null"`
	Code string    `gorm:"column:code;not null;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
