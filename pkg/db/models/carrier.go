package models

import (
	"time"

	"github.com/google/uuid"
)

// Carrier is an internal delivery method.
type Carrier struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Reference string    `gorm:"column:reference;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
