package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Job is one unit of asynchronous connector work. The scheduler coalesces
// unfinished jobs by identity key via a partial unique index; the migration
// defines `ux_jobs_identity_unfinished ON jobs (identity_key) WHERE state IN
// ('pending','running')`.
type Job struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityKey   string             `gorm:"column:identity_key;not null;index"`
	IntegrationID uuid.UUID          `gorm:"column:integration_id;type:uuid;not null;index"`
	Operation     enums.JobOperation `gorm:"column:operation;type:text;not null"`
	Description   string             `gorm:"column:description"`

	// Payload is the full normalized payload captured at verification time,
	// so execution is self-contained and replayable.
	Payload json.RawMessage `gorm:"column:payload;type:jsonb;not null"`

	State     enums.JobState `gorm:"column:state;type:text;not null;default:'pending';index"`
	Attempts  int            `gorm:"column:attempts;not null;default:0"`
	LastError *string        `gorm:"column:last_error"`

	// BlockedEntityType/BlockedCode are set when the job failed on a mapping
	// miss; the requeue trigger matches on them.
	BlockedEntityType *string `gorm:"column:blocked_entity_type"`
	BlockedCode       *string `gorm:"column:blocked_code"`

	StartedAt  *time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
