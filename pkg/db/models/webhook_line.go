package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// WebhookLine routes one webhook topic of an integration to a job operation.
// An inactive or missing line means events for that topic are dropped.
type WebhookLine struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID uuid.UUID          `gorm:"column:integration_id;type:uuid;not null;uniqueIndex:ux_webhook_lines_scope_topic,priority:1"`
	Topic         string             `gorm:"column:topic;not null;uniqueIndex:ux_webhook_lines_scope_topic,priority:2"`
	Operation     enums.JobOperation `gorm:"column:operation;type:text;not null"`
	Active        bool               `gorm:"column:active;not null;default:true"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
