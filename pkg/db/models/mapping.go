package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Mapping pairs one internal record with one ExternalRecord, scoped to one
// integration. InternalID stays null while the record is unmapped.
type Mapping struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID    uuid.UUID        `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_mappings_scope_external,priority:1"`
	EntityType       enums.EntityType `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_mappings_scope_external,priority:2"`
	ExternalRecordID uuid.UUID        `gorm:"column:external_record_id;type:uuid;not null;uniqueIndex:ux_mappings_scope_external,priority:3"`
	InternalID       *uuid.UUID       `gorm:"column:internal_id;type:uuid;index"`

	ExternalRecord *ExternalRecord `gorm:"foreignKey:ExternalRecordID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
