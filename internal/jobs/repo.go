package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
)

// Repository persists job rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, job *models.Job) error
	FindUnfinishedByIdentity(ctx context.Context, identityKey string) (*models.Job, error)
	ClaimPending(ctx context.Context, limit int) ([]models.Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, blockedEntityType, blockedCode *string) error
	MarkCanceled(ctx context.Context, id uuid.UUID) error
	RequeueBlocked(ctx context.Context, integrationID uuid.UUID, entityType, code string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a jobs repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindUnfinishedByIdentity(ctx context.Context, identityKey string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("identity_key = ? AND state IN ?", identityKey,
			[]enums.JobState{enums.JobPending, enums.JobRunning}).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimPending flips up to limit pending jobs to running and returns them.
// The UPDATE guards on state so two pollers never claim the same row.
func (r *repository) ClaimPending(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("state = ?", enums.JobPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.Job, 0, len(jobs))
	now := time.Now().UTC()
	for i := range jobs {
		result := r.db.WithContext(ctx).
			Model(&models.Job{}).
			Where("id = ? AND state = ?", jobs[i].ID, enums.JobPending).
			Updates(map[string]any{
				"state":      enums.JobRunning,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		jobs[i].State = enums.JobRunning
		jobs[i].StartedAt = &now
		jobs[i].Attempts++
		claimed = append(claimed, jobs[i])
	}
	return claimed, nil
}

func (r *repository) MarkDone(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       enums.JobDone,
			"finished_at": now,
			"last_error":  nil,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, blockedEntityType, blockedCode *string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":               enums.JobFailed,
			"finished_at":         now,
			"last_error":          lastError,
			"blocked_entity_type": blockedEntityType,
			"blocked_code":        blockedCode,
		}).Error
}

func (r *repository) MarkCanceled(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       enums.JobCanceled,
			"finished_at": now,
		}).Error
}

// RequeueBlocked flips failed jobs blocked on (entityType, code) back to
// pending so the next poll picks them up.
func (r *repository) RequeueBlocked(ctx context.Context, integrationID uuid.UUID, entityType, code string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("integration_id = ? AND state = ? AND blocked_entity_type = ? AND blocked_code = ?",
			integrationID, enums.JobFailed, entityType, code).
		Updates(map[string]any{
			"state":               enums.JobPending,
			"blocked_entity_type": nil,
			"blocked_code":        nil,
			"finished_at":         nil,
		})
	return result.RowsAffected, result.Error
}
