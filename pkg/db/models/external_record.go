package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// ExternalRecord mirrors one object as known by one external platform
// instance. (integration, entity_type, code) is unique; so is
// (integration, entity_type, reference) when reference is non-empty.
type ExternalRecord struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID uuid.UUID        `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_external_records_scope_code,priority:1"`
	EntityType    enums.EntityType `gorm:"column:entity_type;type:text;not null;uniqueIndex:ux_external_records_scope_code,priority:2"`
	Code          string           `gorm:"column:code;not null;uniqueIndex:ux_external_records_scope_code,priority:3"`
	Name          string           `gorm:"column:name"`

	// Reference is the secondary business key used for reference matching,
	// e.g. a SKU. Uniqueness within scope is enforced by a partial index in
	// the migration (empty references are exempt).
	Reference string `gorm:"column:reference;index"`

	Payload json.RawMessage `gorm:"column:payload;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
