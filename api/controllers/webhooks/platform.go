package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucasferrero/channelsync-backend/api/responses"
	"github.com/lucasferrero/channelsync-backend/internal/intake"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

const (
	topicHeader     = "X-Webhook-Topic"
	signatureHeader = "X-Webhook-Signature"
	deliveryHeader  = "X-Webhook-Delivery-Id"
)

// IntakeService is the decision surface this controller fronts.
type IntakeService interface {
	Handle(ctx context.Context, req intake.Request) (*intake.Decision, error)
}

// replayGuard remembers delivery ids so byte-identical redeliveries are
// answered without re-entering the state machine.
type replayGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// PlatformWebhook receives one platform delivery. The response body is plain
// text describing the scheduling decision; callers should treat it as a log
// line, not an API contract.
func PlatformWebhook(svc IntakeService, guard replayGuard, replayTTL time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intake service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "replay guard unavailable"))
			return
		}

		integrationID, err := uuid.Parse(chi.URLParam(r, "integrationID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid integration id"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		topic := r.Header.Get(topicHeader)
		forwardedHost := r.Header.Get("X-Forwarded-Host")
		if forwardedHost == "" {
			forwardedHost = r.Host
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"db":       chi.URLParam(r, "dbname"),
				"platform": chi.URLParam(r, "platform"),
				"resource": chi.URLParam(r, "resource"),
			})
			ctx = logg.WithTopic(ctx, topic)
		}

		key := guard.IdempotencyKey("webhook", deliveryID(r, topic, body))
		firstSeen, err := guard.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), replayTTL)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook replay"))
			return
		}
		if !firstSeen {
			if logg != nil {
				logg.Info(ctx, "webhook delivery replayed, skipping")
			}
			responses.WritePlainText(w, http.StatusOK, "Event already processed")
			return
		}

		decision, err := svc.Handle(ctx, intake.Request{
			IntegrationID: integrationID,
			Platform:      chi.URLParam(r, "platform"),
			Resource:      chi.URLParam(r, "resource"),
			Topic:         topic,
			Signature:     r.Header.Get(signatureHeader),
			ForwardedHost: forwardedHost,
			Body:          body,
		})
		if err != nil {
			// Release the guard so the platform's retry gets a real attempt.
			_ = guard.Del(ctx, key)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WritePlainText(w, http.StatusOK, decision.Message)
	}
}

// deliveryID prefers the platform's delivery header; without one, identical
// redeliveries still collapse onto the same digest.
func deliveryID(r *http.Request, topic string, body []byte) string {
	if id := r.Header.Get(deliveryHeader); id != "" {
		return id
	}
	sum := sha256.Sum256(append([]byte(topic+"\n"), body...))
	return hex.EncodeToString(sum[:])
}
