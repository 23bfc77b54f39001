package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/api/validators"
	"github.com/echowrite-ai/echowrite-backend/internal/subscriptions"
	paymentwebhook "github.com/echowrite-ai/echowrite-backend/internal/webhooks/payments"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/google/uuid"
)

type checkoutSyncer interface {
	SyncCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (paymentwebhook.Outcome, error)
}

// SubscriptionFetch returns the caller's subscription row plus the plan it
// currently entitles.
func SubscriptionFetch(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		sub, degradation, err := svc.Ensure(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, _ := svc.EffectivePlan(ctx, userID, time.Now())

		responses.WriteSuccess(w, map[string]any{
			"subscription":   sub,
			"effective_plan": plan,
			"degraded":       degradation.Degraded(),
		})
	}
}

// SubscriptionCancel flags the provider subscription to lapse at period end.
func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		if err := svc.CancelAtPeriodEnd(ctx, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"cancel_at_period_end": true})
	}
}

type syncRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// SubscriptionSync reconciles a checkout session when the completion
// webhook never arrived.
func SubscriptionSync(svc checkoutSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfig, "payment provider is not configured"))
			return
		}

		var req syncRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		outcome, err := svc.SyncCheckout(ctx, userID, req.SessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}
