package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/lucasferrero/channelsync-backend/pkg/config"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
	"github.com/lucasferrero/channelsync-backend/pkg/metrics"
)

// Handler executes one job. A returned error marks the job failed; when the
// error carries a mapping context the job is recorded as blocked on that
// (entity type, code) pair and becomes eligible for requeue.
type Handler func(ctx context.Context, job *models.Job) error

// eventsPublisher fans lifecycle events out to Pub/Sub; nil disables it.
type eventsPublisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// lifecycleEvent is the message body published after a job finishes.
type lifecycleEvent struct {
	JobID         string             `json:"job_id"`
	IntegrationID string             `json:"integration_id"`
	Operation     enums.JobOperation `json:"operation"`
	State         enums.JobState     `json:"state"`
}

var eventNameByOperation = map[enums.JobOperation]string{
	enums.JobOrderImport:      "order_imported",
	enums.JobOrderUpdate:      "order_updated",
	enums.JobOrderCancel:      "order_canceled",
	enums.JobFulfillmentApply: "fulfillment_applied",
	enums.JobTransactionApply: "transaction_applied",
	enums.JobCatalogSync:      "catalog_synced",
}

// RunnerParams configure the worker-side job runner.
type RunnerParams struct {
	Repo      Repository
	Logger    *logger.Logger
	Metrics   *metrics.JobMetrics
	Publisher eventsPublisher
	Config    config.JobsConfig
}

// Runner polls pending jobs and dispatches them through the operation
// registry. Delivery is at-least-once; handlers are expected to be
// idempotent.
type Runner struct {
	repo      Repository
	logger    *logger.Logger
	metrics   *metrics.JobMetrics
	publisher eventsPublisher
	cfg       config.JobsConfig
	handlers  map[enums.JobOperation]Handler
}

// NewRunner builds a job runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 500
	}
	return &Runner{
		repo:      params.Repo,
		logger:    params.Logger,
		metrics:   params.Metrics,
		publisher: params.Publisher,
		cfg:       cfg,
		handlers:  map[enums.JobOperation]Handler{},
	}, nil
}

// Register binds a handler to an operation. Jobs with unregistered
// operations fail immediately.
func (r *Runner) Register(operation enums.JobOperation, handler Handler) {
	if handler == nil {
		return
	}
	r.handlers[operation] = handler
}

// Run polls until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	interval := time.Duration(r.cfg.PollIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "job runner context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := r.runBatch(ctx); err != nil {
				r.logger.Error(ctx, "job batch failed", err)
			}
		}
	}
}

func (r *Runner) runBatch(ctx context.Context) error {
	claimed, err := r.repo.ClaimPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim pending jobs: %w", err)
	}

	var errs error
	for i := range claimed {
		if err := r.runJob(ctx, &claimed[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Runner) runJob(ctx context.Context, job *models.Job) error {
	jobCtx := r.logger.WithJobID(ctx, job.ID.String())
	jobCtx = r.logger.WithFields(jobCtx, map[string]any{
		"operation": job.Operation,
		"attempt":   job.Attempts,
	})
	r.logger.Info(jobCtx, "job start")

	handler, ok := r.handlers[job.Operation]
	if !ok {
		err := pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no handler for operation %q", job.Operation))
		return r.finishFailed(jobCtx, job, err)
	}

	start := time.Now()
	err := handler(jobCtx, job)
	r.metrics.ObserveDuration(string(job.Operation), time.Since(start))

	if err != nil {
		return r.finishFailed(jobCtx, job, err)
	}
	return r.finishDone(jobCtx, job)
}

func (r *Runner) finishDone(ctx context.Context, job *models.Job) error {
	if err := r.repo.MarkDone(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	r.metrics.IncSuccess(string(job.Operation))
	r.logger.Info(ctx, "job completed")
	r.publishLifecycle(ctx, job, enums.JobDone)
	return nil
}

func (r *Runner) finishFailed(ctx context.Context, job *models.Job, cause error) error {
	var blockedEntityType, blockedCode *string
	if typed := pkgerrors.As(cause); typed != nil {
		if mc := typed.Mapping(); mc != nil {
			blockedEntityType = &mc.EntityType
			blockedCode = &mc.Code
		}
	}

	if job.Attempts >= r.cfg.MaxAttempts && r.cfg.MaxAttempts > 0 && blockedEntityType == nil {
		r.logger.Error(ctx, "job exhausted attempts, canceling", cause)
		if err := r.repo.MarkCanceled(ctx, job.ID); err != nil {
			return fmt.Errorf("mark job canceled: %w", err)
		}
		r.metrics.IncFailure(string(job.Operation))
		r.publishLifecycle(ctx, job, enums.JobCanceled)
		return nil
	}

	r.logger.Error(ctx, "job failed", cause)
	if err := r.repo.MarkFailed(ctx, job.ID, cause.Error(), blockedEntityType, blockedCode); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	r.metrics.IncFailure(string(job.Operation))
	if blockedEntityType != nil {
		r.metrics.IncBlocked(string(job.Operation))
	}
	r.publishLifecycle(ctx, job, enums.JobFailed)
	return nil
}

func (r *Runner) publishLifecycle(ctx context.Context, job *models.Job, state enums.JobState) {
	if r.publisher == nil {
		return
	}
	event := lifecycleEvent{
		JobID:         job.ID.String(),
		IntegrationID: job.IntegrationID.String(),
		Operation:     job.Operation,
		State:         state,
	}
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error(ctx, "marshal lifecycle event", err)
		return
	}
	attrs := map[string]string{
		"event": eventNameByOperation[job.Operation],
		"state": string(state),
	}
	if err := r.publisher.Publish(ctx, data, attrs); err != nil {
		r.logger.Error(ctx, "publish lifecycle event", err)
	}
}
