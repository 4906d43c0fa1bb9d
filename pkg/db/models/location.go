package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is an internal stock location fulfillment groups allocate to.
type Location struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name string    `gorm:"column:name;not null"`
	Code string    `gorm:"column:code;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
