package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lucasferrero/channelsync-backend/api/routes"
	"github.com/lucasferrero/channelsync-backend/internal/fulfillments"
	"github.com/lucasferrero/channelsync-backend/internal/imports"
	"github.com/lucasferrero/channelsync-backend/internal/intake"
	"github.com/lucasferrero/channelsync-backend/internal/jobs"
	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/internal/platform/squareshop"
	"github.com/lucasferrero/channelsync-backend/pkg/config"
	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
	"github.com/lucasferrero/channelsync-backend/pkg/migrate"
	"github.com/lucasferrero/channelsync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	jobsService, err := jobs.NewService(jobs.ServiceParams{
		Repo:   jobs.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
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
		logg.Error(context.Background(), "failed to create mapping service", err)
		os.Exit(1)
	}

	integrationsRepo := intake.NewRepository(dbClient.DB())
	intakeService, err := intake.NewService(intake.ServiceParams{
		Repo:    integrationsRepo,
		Mapping: mappingService,
		Jobs:    jobsService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intake service", err)
		os.Exit(1)
	}

	// Operator cancels push back to the platform when credentials are set.
	var adapter platform.Adapter
	if cfg.Square.AccessToken != "" {
		squareAdapter, err := squareshop.New(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap square adapter", err)
			os.Exit(1)
		}
		adapter = squareAdapter
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
		logg.Error(context.Background(), "failed to create imports service", err)
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
		logg.Error(context.Background(), "failed to create fulfillments service", err)
		os.Exit(1)
	}

	operator := routes.OperatorServices{
		Integrations: integrationsRepo,
		Orders:       importsService,
		Fulfillments: fulfillmentsService,
		Adapter:      adapter,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, intakeService, operator, registry),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
