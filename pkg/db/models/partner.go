package models

import (
	"time"

	"github.com/google/uuid"
)

// Partner is an internal customer record resolved by the partner factory.
type Partner struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string     `gorm:"column:name;not null"`
	Email       string     `gorm:"column:email;index"`
	Reference   string     `gorm:"column:reference;index"`
	PricelistID *uuid.UUID `gorm:"column:pricelist_id;type:uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Address belongs to a partner; orders reference shipping/billing rows.
type Address struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PartnerID uuid.UUID `gorm:"column:partner_id;type:uuid;not null;index"`
	Street    string    `gorm:"column:street"`
	City      string    `gorm:"column:city"`
	Zip       string    `gorm:"column:zip"`
	Country   string    `gorm:"column:country"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
