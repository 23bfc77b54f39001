package controllers

import (
	"context"
	"net/http"

	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/api/validators"
	"github.com/echowrite-ai/echowrite-backend/internal/generation"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/google/uuid"
)

type generateRequest struct {
	Text     string `json:"text" validate:"required,max=2000"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

// GenerateReply produces a reply draft for the posted text, metered against
// the caller's daily reply quota.
func GenerateReply(svc generation.Service, logg *logger.Logger) http.HandlerFunc {
	return generate(svc, logg, func(svc generation.Service) generateFn {
		return svc.Reply
	})
}

// GenerateTweet produces a standalone post draft, metered against the
// caller's daily tweet quota.
func GenerateTweet(svc generation.Service, logg *logger.Logger) http.HandlerFunc {
	return generate(svc, logg, func(svc generation.Service) generateFn {
		return svc.Tweet
	})
}

type generateFn func(ctx context.Context, userID uuid.UUID, input string, tz string) (generation.Result, error)

func generate(svc generation.Service, logg *logger.Logger, pick func(generation.Service) generateFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfig, "generation is not configured"))
			return
		}

		var req generateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tz := req.Timezone
		if tz == "" {
			tz = timezoneFromRequest(r)
		}

		result, err := pick(svc)(ctx, userID, req.Text, tz)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
