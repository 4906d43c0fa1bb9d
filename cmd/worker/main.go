package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasferrero/channelsync-backend/internal/catalog"
	"github.com/lucasferrero/channelsync-backend/internal/categories"
	"github.com/lucasferrero/channelsync-backend/internal/fulfillments"
	"github.com/lucasferrero/channelsync-backend/internal/imports"
	"github.com/lucasferrero/channelsync-backend/internal/intake"
	"github.com/lucasferrero/channelsync-backend/internal/jobs"
	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/transactions"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/internal/platform/squareshop"
	"github.com/lucasferrero/channelsync-backend/pkg/config"
	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
	"github.com/lucasferrero/channelsync-backend/pkg/metrics"
	"github.com/lucasferrero/channelsync-backend/pkg/migrate"
	"github.com/lucasferrero/channelsync-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	// The adapter is optional: without platform credentials the live product
	// re-import step is skipped and imports rely on the fallback product.
	var adapter platform.Adapter
	if cfg.Square.AccessToken != "" {
		squareAdapter, err := squareshop.New(ctx, cfg.Square, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap square adapter", err)
			os.Exit(1)
		}
		adapter = squareAdapter
	} else {
		logg.Warn(ctx, "no platform credentials configured, live re-import disabled")
	}

	var publisher *pubsub.Client
	if cfg.GCP.ProjectID != "" && cfg.PubSub.EventsTopic != "" {
		publisher, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub", err)
			}
		}()
	}

	jobsService, err := jobs.NewService(jobs.ServiceParams{
		Repo:   jobs.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create jobs service", err)
		os.Exit(1)
	}

	mappingService, err := mapping.NewService(mapping.ServiceParams{
		Repo:            mapping.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Jobs:            jobsService,
		Logger:          logg,
		IntegrationName: "channelsync",
	})
	if err != nil {
		logg.Error(ctx, "failed to create mapping service", err)
		os.Exit(1)
	}

	importsService, err := imports.NewService(imports.ServiceParams{
		Repo:    imports.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Mapping: mappingService,
		Jobs:    jobsService,
		Adapter: adapter,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create imports service", err)
		os.Exit(1)
	}

	fulfillmentsService, err := fulfillments.NewService(fulfillments.ServiceParams{
		Repo:    fulfillments.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Mapping: mappingService,
		Adapter: adapter,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create fulfillments service", err)
		os.Exit(1)
	}

	transactionsService, err := transactions.NewService(transactions.ServiceParams{
		Repo:    transactions.NewRepository(dbClient.DB()),
		Mapping: mappingService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create transactions service", err)
		os.Exit(1)
	}

	// Catalog refresh needs a live platform connection.
	var catalogService catalog.Service
	if adapter != nil {
		categoriesService, err := categories.NewService(categories.ServiceParams{
			Repo:    categories.NewRepository(dbClient.DB()),
			Mapping: mappingService,
			Logger:  logg,
		})
		if err != nil {
			logg.Error(ctx, "failed to create categories service", err)
			os.Exit(1)
		}
		catalogService, err = catalog.NewService(catalog.ServiceParams{
			Adapter:    adapter,
			Mapping:    mappingService,
			Statuses:   imports.NewRepository(dbClient.DB()),
			Categories: categoriesService,
			Logger:     logg,
		})
		if err != nil {
			logg.Error(ctx, "failed to create catalog service", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	jobMetrics := metrics.NewJobMetrics(registry)

	runnerParams := jobs.RunnerParams{
		Repo:    jobs.NewRepository(dbClient.DB()),
		Logger:  logg,
		Metrics: jobMetrics,
		Config:  cfg.Jobs,
	}
	if publisher != nil {
		runnerParams.Publisher = publisher
	}
	runner, err := jobs.NewRunner(runnerParams)
	if err != nil {
		logg.Error(ctx, "failed to create job runner", err)
		os.Exit(1)
	}

	integrationsRepo := intake.NewRepository(dbClient.DB())
	handlers := &jobHandlers{
		integrations: integrationsRepo,
		imports:      importsService,
		fulfillments: fulfillmentsService,
		transactions: transactionsService,
		catalog:      catalogService,
	}
	runner.Register(enums.JobOrderImport, handlers.importOrder)
	runner.Register(enums.JobOrderUpdate, handlers.updateOrder)
	runner.Register(enums.JobOrderCancel, handlers.cancelOrder)
	runner.Register(enums.JobFulfillmentApply, handlers.applyFulfillment)
	runner.Register(enums.JobTransactionApply, handlers.applyTransaction)
	if catalogService != nil {
		runner.Register(enums.JobCatalogSync, handlers.syncCatalog)
		go scheduleCatalogSyncs(ctx, cfg, logg, integrationsRepo, jobsService)
	}

	go serveMetrics(ctx, cfg, logg, registry)

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting job runner")

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logg.Error(ctx, "job runner stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// scheduleCatalogSyncs enqueues one catalog_sync job per active integration
// on a fixed interval. The identity index coalesces a schedule that lands
// while the previous sync is still unfinished.
func scheduleCatalogSyncs(ctx context.Context, cfg *config.Config, logg *logger.Logger, integrations intake.Repository, jobsService jobs.Service) {
	ticker := time.NewTicker(cfg.Jobs.CatalogSyncInterval)
	defer ticker.Stop()

	for {
		active, err := integrations.ListActiveIntegrations(ctx)
		if err != nil {
			logg.Error(ctx, "list active integrations for catalog sync", err)
		}
		for _, integration := range active {
			_, _, err := jobsService.Schedule(ctx, jobs.ScheduleInput{
				IntegrationID: integration.ID,
				Operation:     enums.JobCatalogSync,
				Code:          "catalog",
				Description:   "refresh platform catalog",
				Payload:       json.RawMessage(`{}`),
			})
			if err != nil {
				scheduleCtx := logg.WithIntegrationID(ctx, integration.ID.String())
				logg.Error(scheduleCtx, "schedule catalog sync", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, cfg *config.Config, logg *logger.Logger, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}
