package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is an internal product category; parent links form a tree, which
// the category import validates for cycles before writing.
type Category struct {
	ID       uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name     string     `gorm:"column:name;not null"`
	ParentID *uuid.UUID `gorm:"column:parent_id;type:uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
