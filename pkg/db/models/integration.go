package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Integration is one configured connection to one external platform store.
type Integration struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	Platform      string    `gorm:"column:platform;not null"`
	StoreURL      string    `gorm:"column:store_url;not null"`
	WebhookSecret string    `gorm:"column:webhook_secret;not null"`
	Active        bool      `gorm:"column:active;not null;default:true"`

	// ImportStateFilter lists the platform workflow states that are allowed
	// to trigger an order import. Empty means import everything.
	ImportStateFilter pq.StringArray `gorm:"column:import_state_filter;type:text[]"`

	DiscountAsSeparateLine    bool `gorm:"column:discount_as_separate_line;not null;default:true"`
	TotalDifferenceCorrection bool `gorm:"column:total_difference_correction;not null;default:false"`
	GiftWrapTaxIncluded       bool `gorm:"column:gift_wrap_tax_included;not null;default:true"`

	DefaultCustomerID           *uuid.UUID `gorm:"column:default_customer_id;type:uuid"`
	FallbackProductID           *uuid.UUID `gorm:"column:fallback_product_id;type:uuid"`
	GiftWrapProductID           *uuid.UUID `gorm:"column:gift_wrap_product_id;type:uuid"`
	PositiveDifferenceProductID *uuid.UUID `gorm:"column:positive_difference_product_id;type:uuid"`
	NegativeDifferenceProductID *uuid.UUID `gorm:"column:negative_difference_product_id;type:uuid"`

	WebhookLines []WebhookLine `gorm:"foreignKey:IntegrationID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
