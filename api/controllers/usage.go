package controllers

import (
	"context"
	"net/http"

	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/internal/usage"
	"github.com/echowrite-ai/echowrite-backend/pkg/enums"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
	"github.com/google/uuid"
)

type usagePeeker interface {
	Peek(ctx context.Context, userID uuid.UUID, quotaType enums.QuotaType, tz string) (usage.Decision, error)
}

// Usage reports the caller's current daily quota state for one action type.
func Usage(svc usagePeeker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		quotaType, err := enums.ParseQuotaType(r.URL.Query().Get("type"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quota type"))
			return
		}

		decision, err := svc.Peek(ctx, userID, quotaType, timezoneFromRequest(r))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, decision)
	}
}

// timezoneFromRequest reads the client's IANA timezone; unknown values fall
// back to UTC downstream.
func timezoneFromRequest(r *http.Request) string {
	if tz := r.URL.Query().Get("tz"); tz != "" {
		return tz
	}
	return r.Header.Get("X-Timezone")
}
