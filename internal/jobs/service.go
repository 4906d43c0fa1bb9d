package jobs

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// IdentityKey derives the scheduler's de-duplication key for an operation on
// one external order.
func IdentityKey(integrationID uuid.UUID, code string, operation enums.JobOperation) string {
	return fmt.Sprintf("%s-%s-%s", integrationID, code, operation)
}

// ScheduleInput describes one unit of connector work to enqueue.
type ScheduleInput struct {
	IntegrationID uuid.UUID
	Operation     enums.JobOperation
	Code          string
	Description   string
	Payload       json.RawMessage
}

// Service is the scheduling surface of the job system. Execution lives in
// Runner.
type Service interface {
	Schedule(ctx context.Context, input ScheduleInput) (*models.Job, bool, error)
	RequeueBlocked(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (int64, error)
	HasPendingCancel(ctx context.Context, integrationID uuid.UUID, code string) (bool, error)
}

// ServiceParams collects the job service dependencies.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	tx     txRunner
	logger *logger.Logger
}

// NewService builds the job scheduling service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, tx: params.Tx, logger: params.Logger}, nil
}

// Schedule inserts a pending job unless an unfinished job with the same
// identity key already exists. The partial unique index is the arbiter:
// losing a concurrent insert race coalesces instead of failing. The boolean
// reports whether a new job was created.
func (s *service) Schedule(ctx context.Context, input ScheduleInput) (*models.Job, bool, error) {
	if input.IntegrationID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "integration id required")
	}
	if input.Code == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "external code required")
	}
	if !input.Operation.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown job operation %q", input.Operation))
	}
	if len(input.Payload) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "job payload required")
	}

	identityKey := IdentityKey(input.IntegrationID, input.Code, input.Operation)

	var out *models.Job
	created := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindUnfinishedByIdentity(ctx, identityKey)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find unfinished job")
		}
		if existing != nil {
			out = existing
			return nil
		}

		job := &models.Job{
			ID:            uuid.New(),
			IdentityKey:   identityKey,
			IntegrationID: input.IntegrationID,
			Operation:     input.Operation,
			Description:   input.Description,
			Payload:       input.Payload,
			State:         enums.JobPending,
		}
		if err := repo.Create(ctx, job); err != nil {
			if db.IsUniqueViolation(err, "ux_jobs_identity_unfinished") {
				existing, ferr := repo.FindUnfinishedByIdentity(ctx, identityKey)
				if ferr != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "refetch coalesced job")
				}
				out = existing
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create job")
		}
		out = job
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		ctx = s.logger.WithFields(ctx, map[string]any{
			"job_id":    out.ID.String(),
			"operation": out.Operation,
			"code":      input.Code,
		})
		s.logger.Info(ctx, "job scheduled")
	}
	return out, created, nil
}

// RequeueBlocked is the mapping engine's recovery trigger.
func (s *service) RequeueBlocked(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (int64, error) {
	count, err := s.repo.RequeueBlocked(ctx, integrationID, string(kind), code)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue blocked jobs")
	}
	return count, nil
}

// HasPendingCancel reports whether a cancel job for the order is waiting or
// running; the import/update handlers check it before starting new work.
func (s *service) HasPendingCancel(ctx context.Context, integrationID uuid.UUID, code string) (bool, error) {
	identityKey := IdentityKey(integrationID, code, enums.JobOrderCancel)
	_, err := s.repo.FindUnfinishedByIdentity(ctx, identityKey)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending cancel job")
	}
	return true, nil
}
