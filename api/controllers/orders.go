package controllers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/api/responses"
	"github.com/lucasferrero/channelsync-backend/api/validators"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

// IntegrationLoader resolves the integration named in the request path.
type IntegrationLoader interface {
	FindIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
}

// OrderCancelService marks an imported order canceled locally.
type OrderCancelService interface {
	CancelOrder(ctx context.Context, integration *models.Integration, code string) (*models.Order, error)
}

// FulfillmentCancelService cancels a recorded fulfillment, pushing to the
// platform when an adapter is configured.
type FulfillmentCancelService interface {
	Cancel(ctx context.Context, integration *models.Integration, code string) error
}

// orderCanceler is the platform-side half of an operator cancel.
type orderCanceler interface {
	CancelOrder(ctx context.Context, id string, params platform.CancelParams) error
}

type cancelOrderRequest struct {
	Reason        string `json:"reason" validate:"required"`
	NotifyBuyer   bool   `json:"notify_buyer"`
	RestockLines  bool   `json:"restock_lines"`
	RefundPayment bool   `json:"refund_payment"`
}

type cancelFulfillmentRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder is the operator-initiated cancel. Unlike the webhook path,
// where the platform already canceled and the connector only mirrors it,
// this one pushes the cancel back to the platform after marking locally.
func CancelOrder(integrations IntegrationLoader, orders OrderCancelService, adapter orderCanceler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		integration, err := loadIntegration(ctx, integrations, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		code := chi.URLParam(r, "code")
		if code == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order code required"))
			return
		}

		var body cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := orders.CancelOrder(ctx, integration, code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %q not imported", code)))
			return
		}

		if adapter != nil {
			err := adapter.CancelOrder(ctx, code, platform.CancelParams{
				Reason:        body.Reason,
				NotifyBuyer:   body.NotifyBuyer,
				RestockLines:  body.RestockLines,
				RefundPayment: body.RefundPayment,
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeAPIExport, err, "push order cancel to platform"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]any{
			"order_id": order.ID.String(),
			"code":     code,
			"status":   "canceled",
		})
	}
}

// CancelFulfillment cancels a shipment on behalf of an operator.
func CancelFulfillment(integrations IntegrationLoader, fulfillments FulfillmentCancelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		integration, err := loadIntegration(ctx, integrations, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		code := chi.URLParam(r, "code")
		if code == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment code required"))
			return
		}

		var body cancelFulfillmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := fulfillments.Cancel(ctx, integration, code); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"code":   code,
			"status": "canceled",
		})
	}
}

func loadIntegration(ctx context.Context, integrations IntegrationLoader, r *http.Request) (*models.Integration, error) {
	raw := chi.URLParam(r, "integrationID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid integration id %q", raw))
	}
	integration, err := integrations.FindIntegration(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("integration %s not found", id))
	}
	return integration, nil
}
