package controllers

import (
	"net/http"

	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/internal/entitlements"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
)

// Features lists the caller's feature entitlements.
func Features(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		features, err := svc.List(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"features": features})
	}
}
