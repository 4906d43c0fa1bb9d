package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasferrero/channelsync-backend/api/controllers"
	webhookcontrollers "github.com/lucasferrero/channelsync-backend/api/controllers/webhooks"
	"github.com/lucasferrero/channelsync-backend/api/middleware"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/config"
	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
	"github.com/lucasferrero/channelsync-backend/pkg/redis"
)

// OperatorServices groups the dependencies behind the operator API. Adapter
// may be nil; cancels then stop at local state.
type OperatorServices struct {
	Integrations controllers.IntegrationLoader
	Orders       controllers.OrderCancelService
	Fulfillments controllers.FulfillmentCancelService
	Adapter      platform.Adapter
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	intakeService webhookcontrollers.IntakeService,
	operator OperatorServices,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	// The path shape platforms are configured with. The db segment names the
	// target database for multi-tenant deployments and is carried as a log
	// field only.
	r.Post("/{dbname}/integration/{platform}/{integrationID}/{resource}",
		webhookcontrollers.PlatformWebhook(intakeService, redisClient, cfg.Webhook.ReplayGuardTTL, logg))

	// Operator surface: cancels initiated on this side push back to the
	// platform, unlike the webhook path which only mirrors.
	if operator.Integrations != nil {
		r.Route("/api/v1/integrations/{integrationID}", func(r chi.Router) {
			if operator.Orders != nil {
				r.Post("/orders/{code}/cancel",
					controllers.CancelOrder(operator.Integrations, operator.Orders, operator.Adapter, logg))
			}
			if operator.Fulfillments != nil {
				r.Post("/fulfillments/{code}/cancel",
					controllers.CancelFulfillment(operator.Integrations, operator.Fulfillments, logg))
			}
		})
	}

	return r
}
