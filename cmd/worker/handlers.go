package main

import (
	"context"
	"encoding/json"

	"github.com/lucasferrero/channelsync-backend/internal/catalog"
	"github.com/lucasferrero/channelsync-backend/internal/fulfillments"
	"github.com/lucasferrero/channelsync-backend/internal/imports"
	"github.com/lucasferrero/channelsync-backend/internal/intake"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/internal/transactions"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
)

// jobHandlers executes the scheduled operations. Each handler is idempotent:
// redelivered jobs re-resolve against the mapping engine and short-circuit
// when the work is already done.
type jobHandlers struct {
	integrations intake.Repository
	imports      imports.Service
	fulfillments fulfillments.Service
	transactions transactions.Service
	catalog      catalog.Service
}

func (h *jobHandlers) importOrder(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	var payload platform.OrderPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	_, err = h.imports.CreateOrder(ctx, integration, payload)
	return err
}

func (h *jobHandlers) updateOrder(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	var payload platform.OrderPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	_, err = h.imports.UpdateOrderState(ctx, integration, payload)
	return err
}

func (h *jobHandlers) cancelOrder(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	var payload platform.OrderPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	_, err = h.imports.CancelOrder(ctx, integration, payload.Code)
	return err
}

func (h *jobHandlers) applyFulfillment(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	var payload platform.FulfillmentPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	_, err = h.fulfillments.Apply(ctx, integration, payload)
	return err
}

func (h *jobHandlers) applyTransaction(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	var payload platform.TransactionPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	_, _, err = h.transactions.Apply(ctx, integration, payload)
	return err
}

func (h *jobHandlers) syncCatalog(ctx context.Context, job *models.Job) error {
	integration, err := h.loadIntegration(ctx, job)
	if err != nil {
		return err
	}
	_, err = h.catalog.Sync(ctx, integration)
	return err
}

// loadIntegration restores the integration the job was scheduled for, so a
// job replays without re-reading the platform.
func (h *jobHandlers) loadIntegration(ctx context.Context, job *models.Job) (*models.Integration, error) {
	integration, err := h.integrations.FindIntegration(ctx, job.IntegrationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load integration for job")
	}
	return integration, nil
}

func decodePayload(job *models.Job, out any) error {
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode job payload")
	}
	return nil
}
