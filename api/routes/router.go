package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echowrite-ai/echowrite-backend/api/controllers"
	webhookcontrollers "github.com/echowrite-ai/echowrite-backend/api/controllers/webhooks"
	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/internal/entitlements"
	"github.com/echowrite-ai/echowrite-backend/internal/generation"
	"github.com/echowrite-ai/echowrite-backend/internal/payments"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	"github.com/echowrite-ai/echowrite-backend/internal/usage"
	paymentwebhook "github.com/echowrite-ai/echowrite-backend/internal/webhooks/payments"
	"github.com/echowrite-ai/echowrite-backend/pkg/config"
	"github.com/echowrite-ai/echowrite-backend/pkg/db"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/echowrite-ai/echowrite-backend/pkg/redis"
	pkgstripe "github.com/echowrite-ai/echowrite-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	catalogService catalog.Service,
	subscriptionsService subscriptions.Service,
	entitlementsService entitlements.Service,
	usageService usage.Service,
	generationService generation.Service,
	paymentsRepo payments.Repository,
	webhookService *paymentwebhook.Service,
	webhookGuard *paymentwebhook.Guard,
	providerClient *pkgstripe.Client,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var redisPinger interface{ Ping(context.Context) error }
	if redisClient != nil {
		redisPinger = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Get("/api/v1/plans", controllers.Plans(catalogService, logg))

	// A typed nil guard must not reach the handler's interface check.
	var guard interface {
		CheckAndMark(ctx context.Context, eventID string) (bool, error)
		Delete(ctx context.Context, eventID string) error
	}
	if webhookGuard != nil {
		guard = webhookGuard
	}
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(webhookService, providerClient, guard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionFetch(subscriptionsService, logg))
			r.Post("/cancel", controllers.SubscriptionCancel(subscriptionsService, logg))
			r.Post("/sync", controllers.SubscriptionSync(webhookService, logg))
		})

		r.Get("/features", controllers.Features(entitlementsService, logg))
		r.Get("/usage", controllers.Usage(usageService, logg))

		r.Route("/generate", func(r chi.Router) {
			var limiter middleware.RateLimitStore
			if redisClient != nil {
				limiter = redisClient
			}
			r.Use(middleware.RateLimit(middleware.RateLimitPolicy{
				Name:   "generate",
				Window: cfg.Quota.GenerateRateWindow,
				Limit:  cfg.Quota.GenerateRateLimit,
			}, limiter, logg))
			r.Post("/reply", controllers.GenerateReply(generationService, logg))
			r.Post("/tweet", controllers.GenerateTweet(generationService, logg))
		})

		r.Get("/payments", controllers.PaymentsList(paymentsRepo, logg))
	})

	return r
}
