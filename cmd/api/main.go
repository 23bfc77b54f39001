package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/echowrite-ai/echowrite-backend/api/routes"
	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/internal/entitlements"
	"github.com/echowrite-ai/echowrite-backend/internal/generation"
	"github.com/echowrite-ai/echowrite-backend/internal/payments"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/internal/usage"
	"github.com/echowrite-ai/echowrite-backend/internal/users"
	paymentwebhook "github.com/echowrite-ai/echowrite-backend/internal/webhooks/payments"
	"github.com/echowrite-ai/echowrite-backend/pkg/config"
	"github.com/echowrite-ai/echowrite-backend/pkg/db"
	"github.com/echowrite-ai/echowrite-backend/pkg/llm"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/echowrite-ai/echowrite-backend/pkg/metrics"
	"github.com/echowrite-ai/echowrite-backend/pkg/migrate"
	"github.com/echowrite-ai/echowrite-backend/pkg/redis"
	pkgstripe "github.com/echowrite-ai/echowrite-backend/pkg/stripe"
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

	// Redis is optional. Without it quota checks fall back to database
	// counting and webhook deliveries are not deduplicated.
	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(context.Background(), "redis not configured, quota checks will count from the database")
	}

	var providerClient *pkgstripe.Client
	if cfg.Provider.APIKey != "" {
		providerClient, err = pkgstripe.NewClient(context.Background(), cfg.Provider, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap payment provider", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "payment provider not configured, billing endpoints degrade to free plan")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewBillingMetrics(registry)

	probe := db.NewTableProbe(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())
	subscriptionsRepo := subscriptions.NewRepository(dbClient.DB())
	usageRepo := usage.NewRepository(dbClient.DB())
	entitlementsRepo := entitlements.NewRepository(dbClient.DB())
	paymentsRepo := payments.NewRepository(dbClient.DB())

	catalogParams := catalog.ServiceParams{
		Plans: catalog.StaticPlans(
			cfg.Quota.FreeDailyReplies,
			cfg.Quota.FreeDailyTweets,
			cfg.Provider.StarterProductID,
			cfg.Provider.ProProductID,
		),
		Logger:   logg,
		CacheTTL: cfg.Provider.PricingCacheTTL,
	}
	if providerClient != nil {
		catalogParams.Provider = providerClient
	}
	catalogService, err := catalog.NewService(catalogParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	subscriptionsParams := subscriptions.ServiceParams{
		Repo:   subscriptionsRepo,
		Probe:  probe,
		Logger: logg,
	}
	if providerClient != nil {
		subscriptionsParams.Provider = providerClient
	}
	subscriptionsService, err := subscriptions.NewService(subscriptionsParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	usageParams := usage.ServiceParams{
		Repo:         usageRepo,
		Plans:        catalogService,
		Subscription: subscriptionsService,
		Probe:        probe,
		Metrics:      billingMetrics,
		Logger:       logg,
	}
	if redisClient != nil {
		usageParams.Reservations = redisClient
	}
	usageService, err := usage.NewService(usageParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	entitlementsService, err := entitlements.NewService(entitlements.ServiceParams{
		Repo:         entitlementsRepo,
		Subscription: subscriptionsService,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlements service", err)
		os.Exit(1)
	}

	// Generation is optional. Without a model key the endpoints report a
	// configuration error instead of failing at startup.
	var generationService generation.Service
	if cfg.LLM.APIKey != "" {
		llmClient, err := llm.New(cfg.LLM)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap llm client", err)
			os.Exit(1)
		}
		generationService, err = generation.NewService(generation.ServiceParams{
			Quota:   usageService,
			LLM:     llmClient,
			Metrics: billingMetrics,
			Logger:  logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create generation service", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "llm not configured, generation endpoints disabled")
	}

	webhookParams := paymentwebhook.ServiceParams{
		Subscriptions:    subscriptionsRepo,
		Payments:         paymentsRepo,
		Users:            usersRepo,
		StarterProductID: cfg.Provider.StarterProductID,
		ProProductID:     cfg.Provider.ProProductID,
		Metrics:          billingMetrics,
		Logger:           logg,
	}
	if providerClient != nil {
		webhookParams.Provider = providerClient
	}
	webhookService, err := paymentwebhook.NewService(webhookParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	var webhookGuard *paymentwebhook.Guard
	if redisClient != nil {
		webhookGuard, err = paymentwebhook.NewGuard(redisClient, cfg.Provider.WebhookEventTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create webhook guard", err)
			os.Exit(1)
		}
	}

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
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			catalogService,
			subscriptionsService,
			entitlementsService,
			usageService,
			generationService,
			paymentsRepo,
			webhookService,
			webhookGuard,
			providerClient,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
