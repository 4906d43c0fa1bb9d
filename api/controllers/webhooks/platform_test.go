package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lucasferrero/channelsync-backend/internal/intake"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

type fakeIntake struct {
	calls    int
	lastReq  intake.Request
	decision *intake.Decision
	err      error
}

func (f *fakeIntake) Handle(_ context.Context, req intake.Request) (*intake.Decision, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

type fakeGuard struct {
	seen    map[string]bool
	deleted []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{seen: map[string]bool{}}
}

func (g *fakeGuard) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *fakeGuard) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (g *fakeGuard) Del(_ context.Context, keys ...string) error {
	g.deleted = append(g.deleted, keys...)
	for _, key := range keys {
		delete(g.seen, key)
	}
	return nil
}

func newWebhookServer(svc IntakeService, guard replayGuard) *httptest.Server {
	logg := logger.New(logger.Options{ServiceName: "test"})
	r := chi.NewRouter()
	r.Post("/{dbname}/integration/{platform}/{integrationID}/{resource}",
		PlatformWebhook(svc, guard, time.Hour, logg))
	return httptest.NewServer(r)
}

func postWebhook(t *testing.T, url string, headers map[string]string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPlatformWebhookRespondsPlainText(t *testing.T) {
	svc := &fakeIntake{decision: &intake.Decision{
		Outcome: enums.DecisionImportScheduled,
		Message: "Job created for order with code=ORD-1. Action: create order",
	}}
	server := newWebhookServer(svc, newFakeGuard())
	defer server.Close()

	integrationID := uuid.New()
	resp := postWebhook(t, server.URL+"/prod/integration/squareshop/"+integrationID.String()+"/orders",
		map[string]string{
			topicHeader:     "order.created",
			signatureHeader: "abc123",
			deliveryHeader:  "delivery-1",
		},
		[]byte(`{"code":"ORD-1"}`))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Job created for order with code=ORD-1. Action: create order", buf.String())

	require.Equal(t, integrationID, svc.lastReq.IntegrationID)
	require.Equal(t, "squareshop", svc.lastReq.Platform)
	require.Equal(t, "orders", svc.lastReq.Resource)
	require.Equal(t, "order.created", svc.lastReq.Topic)
	require.Equal(t, "abc123", svc.lastReq.Signature)
}

func TestPlatformWebhookReplayShortCircuits(t *testing.T) {
	svc := &fakeIntake{decision: &intake.Decision{Outcome: enums.DecisionIgnored, Message: "ok"}}
	server := newWebhookServer(svc, newFakeGuard())
	defer server.Close()

	url := server.URL + "/prod/integration/squareshop/" + uuid.NewString() + "/orders"
	headers := map[string]string{
		topicHeader:     "order.created",
		signatureHeader: "abc123",
		deliveryHeader:  "delivery-7",
	}

	first := postWebhook(t, url, headers, []byte(`{"code":"ORD-2"}`))
	first.Body.Close()
	second := postWebhook(t, url, headers, []byte(`{"code":"ORD-2"}`))
	defer second.Body.Close()

	require.Equal(t, http.StatusOK, second.StatusCode)
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(second.Body)
	require.NoError(t, err)
	require.Equal(t, "Event already processed", buf.String())
	require.Equal(t, 1, svc.calls)
}

func TestPlatformWebhookReleasesGuardOnFailure(t *testing.T) {
	svc := &fakeIntake{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch")}
	guard := newFakeGuard()
	server := newWebhookServer(svc, guard)
	defer server.Close()

	resp := postWebhook(t, server.URL+"/prod/integration/squareshop/"+uuid.NewString()+"/orders",
		map[string]string{
			topicHeader:     "order.created",
			signatureHeader: "bad",
			deliveryHeader:  "delivery-9",
		},
		[]byte(`{"code":"ORD-3"}`))
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, []string{"webhook:delivery-9"}, guard.deleted)
	require.Empty(t, guard.seen)
}

func TestPlatformWebhookRejectsBadIntegrationID(t *testing.T) {
	svc := &fakeIntake{decision: &intake.Decision{Outcome: enums.DecisionIgnored, Message: "ok"}}
	server := newWebhookServer(svc, newFakeGuard())
	defer server.Close()

	resp := postWebhook(t, server.URL+"/prod/integration/squareshop/not-a-uuid/orders",
		map[string]string{topicHeader: "order.created", signatureHeader: "abc"},
		[]byte(`{}`))
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, svc.calls)
}
