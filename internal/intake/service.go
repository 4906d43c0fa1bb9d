package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"

	"github.com/lucasferrero/channelsync-backend/internal/jobs"
)

// Request is one inbound webhook delivery, already stripped down to the
// parts the state machine inspects. Body is the raw bytes the signature was
// computed over.
type Request struct {
	IntegrationID uuid.UUID
	Platform      string
	Resource      string
	Topic         string
	Signature     string
	ForwardedHost string
	Body          []byte
}

// Decision is the terminal state for one delivery. Message is the plain-text
// response body; it is a log line, not an API contract.
type Decision struct {
	Outcome enums.WebhookDecision
	Message string
	Job     *models.Job
}

// mirrorStore is the slice of the mapping engine intake consumes.
type mirrorStore interface {
	GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs mapping.ExternalAttrs) (*models.ExternalRecord, error)
	MappingFor(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (*models.Mapping, error)
}

// scheduler enqueues the work the decision selected.
type scheduler interface {
	Schedule(ctx context.Context, input jobs.ScheduleInput) (*models.Job, bool, error)
}

// Service is the webhook intake state machine.
type Service interface {
	// Handle verifies the delivery and decides between ignore, import,
	// update and cancel. Verification failures return an error and schedule
	// nothing.
	Handle(ctx context.Context, req Request) (*Decision, error)
}

// ServiceParams collects the intake dependencies.
type ServiceParams struct {
	Repo    Repository
	Mapping mirrorStore
	Jobs    scheduler
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	mapping mirrorStore
	jobs    scheduler
	logger  *logger.Logger
}

// NewService builds the intake state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("intake repository required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("job scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		mapping: params.Mapping,
		jobs:    params.Jobs,
		logger:  params.Logger,
	}, nil
}

func (s *service) Handle(ctx context.Context, req Request) (*Decision, error) {
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id": req.IntegrationID.String(),
		"topic":          req.Topic,
	})

	integration, line, err := s.verify(ctx, req)
	if err != nil {
		s.logger.Error(ctx, "webhook verification failed", err)
		return nil, err
	}
	if line == nil {
		// Unknown topic is a deliberate no-op, not a failure.
		s.logger.Info(ctx, "webhook topic has no routing")
		return &Decision{
			Outcome: enums.DecisionIgnored,
			Message: fmt.Sprintf("No method for topic %q", req.Topic),
		}, nil
	}

	switch normalizeResource(req.Resource) {
	case "", "orders":
		return s.handleOrder(ctx, integration, req)
	case "fulfillments", "shipments":
		return s.handleFulfillment(ctx, integration, req)
	case "transactions", "payments":
		return s.handleTransaction(ctx, integration, req)
	default:
		s.logger.Info(ctx, "webhook resource has no routing")
		return &Decision{
			Outcome: enums.DecisionIgnored,
			Message: fmt.Sprintf("No handler for resource %q", req.Resource),
		}, nil
	}
}

func (s *service) handleOrder(ctx context.Context, integration *models.Integration, req Request) (*Decision, error) {
	var payload platform.OrderPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if payload.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload without order code")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{"order_code": payload.Code})

	// The mirror is captured at verification time so the scheduled job and
	// later mapping lookups are self-contained.
	if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityOrder, payload.Code, mapping.ExternalAttrs{
		Name:    payload.Code,
		Payload: req.Body,
	}); err != nil {
		return nil, err
	}

	exists, err := s.orderExists(ctx, integration.ID, payload.Code)
	if err != nil {
		return nil, err
	}

	switch {
	case !exists:
		if !stateImportable(integration, payload.StateCode) {
			s.logger.Info(ctx, "webhook ignored by import state filter")
			return &Decision{
				Outcome: enums.DecisionIgnored,
				Message: fmt.Sprintf("Event ignored for order with code=%s: state %q is not imported", payload.Code, payload.StateCode),
			}, nil
		}
		return s.schedule(ctx, integration, "order", payload.Code, enums.JobOrderImport, enums.DecisionImportScheduled, "create order", req.Body)

	case stateMeansCanceled(payload.StateCode):
		return s.schedule(ctx, integration, "order", payload.Code, enums.JobOrderCancel, enums.DecisionCancelScheduled, "cancel order", req.Body)

	default:
		return s.schedule(ctx, integration, "order", payload.Code, enums.JobOrderUpdate, enums.DecisionUpdateScheduled, "update order", req.Body)
	}
}

// handleFulfillment schedules the shipment application; the fulfillment
// service itself blocks until the order is imported, so intake only checks
// the payload shape.
func (s *service) handleFulfillment(ctx context.Context, integration *models.Integration, req Request) (*Decision, error) {
	var payload platform.FulfillmentPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if payload.Code == "" || payload.OrderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment payload without code or order code")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"fulfillment_code": payload.Code,
		"order_code":       payload.OrderCode,
	})
	return s.schedule(ctx, integration, "fulfillment", payload.Code, enums.JobFulfillmentApply, enums.DecisionFulfillmentScheduled, "apply fulfillment", req.Body)
}

func (s *service) handleTransaction(ctx context.Context, integration *models.Integration, req Request) (*Decision, error) {
	var payload platform.TransactionPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if payload.ExternalStrID == "" || payload.OrderCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction payload without external id or order code")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"transaction_id": payload.ExternalStrID,
		"order_code":     payload.OrderCode,
	})
	return s.schedule(ctx, integration, "transaction", payload.ExternalStrID, enums.JobTransactionApply, enums.DecisionTransactionScheduled, "apply transaction", req.Body)
}

// verify runs the received-to-verified chain. A nil webhook line with nil
// error means the topic has no routing.
func (s *service) verify(ctx context.Context, req Request) (*models.Integration, *models.WebhookLine, error) {
	if req.Topic == "" || req.Signature == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUser, "webhook missing topic or signature header")
	}

	integration, err := s.repo.FindIntegration(ctx, req.IntegrationID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "integration not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load integration")
	}
	if !integration.Active {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUser, fmt.Sprintf("integration %q is inactive", integration.Name))
	}
	if !hostMatches(integration.StoreURL, req.ForwardedHost) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUser,
			fmt.Sprintf("forwarded host %q does not match the configured store", req.ForwardedHost))
	}
	if !signatureValid(integration.WebhookSecret, req.Body, req.Signature) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch")
	}

	for i := range integration.WebhookLines {
		line := &integration.WebhookLines[i]
		if line.Active && strings.EqualFold(line.Topic, req.Topic) {
			return integration, line, nil
		}
	}
	return integration, nil, nil
}

func (s *service) orderExists(ctx context.Context, integrationID uuid.UUID, code string) (bool, error) {
	record, err := s.mapping.MappingFor(ctx, integrationID, enums.EntityOrder, code)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNoExternal) {
			return false, nil
		}
		return false, err
	}
	return record != nil && record.InternalID != nil, nil
}

func (s *service) schedule(ctx context.Context, integration *models.Integration, noun, code string, operation enums.JobOperation, outcome enums.WebhookDecision, action string, body []byte) (*Decision, error) {
	job, created, err := s.jobs.Schedule(ctx, jobs.ScheduleInput{
		IntegrationID: integration.ID,
		Operation:     operation,
		Code:          code,
		Description:   fmt.Sprintf("%s %s from webhook", action, code),
		Payload:       json.RawMessage(body),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger.Info(ctx, "webhook coalesced into existing job")
	}
	return &Decision{
		Outcome: outcome,
		Message: fmt.Sprintf("Job created for %s with code=%s. Action: %s", noun, code, action),
		Job:     job,
	}, nil
}

// normalizeResource folds the URL segment variants platforms use into the
// canonical resource names.
func normalizeResource(resource string) string {
	return strings.ToLower(strings.TrimSpace(resource))
}

// stateImportable applies the integration's import state filter; an empty
// filter imports everything.
func stateImportable(integration *models.Integration, stateCode string) bool {
	if len(integration.ImportStateFilter) == 0 {
		return true
	}
	for _, allowed := range integration.ImportStateFilter {
		if strings.EqualFold(allowed, stateCode) {
			return true
		}
	}
	return false
}

func stateMeansCanceled(stateCode string) bool {
	switch strings.ToLower(stateCode) {
	case "canceled", "cancelled", "cancel":
		return true
	}
	return false
}

// hostMatches compares the forwarded host with the configured store URL,
// tolerating scheme and port differences.
func hostMatches(storeURL, forwardedHost string) bool {
	if forwardedHost == "" {
		return false
	}
	configured := storeURL
	if parsed, err := url.Parse(storeURL); err == nil && parsed.Host != "" {
		configured = parsed.Host
	}
	return strings.EqualFold(stripPort(configured), stripPort(forwardedHost))
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

// Sign computes the hex HMAC-SHA256 a platform would send for body; used by
// tests and local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureValid(secret string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
