package controllers

import (
	"net/http"
	"strconv"

	"github.com/echowrite-ai/echowrite-backend/api/middleware"
	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/internal/payments"
	pkgerrors "github.com/echowrite-ai/echowrite-backend/pkg/errors"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
)

// PaymentsList returns the caller's payment ledger, newest first, with
// cursor pagination.
func PaymentsList(repo payments.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			limit = parsed
		}

		page, err := repo.ListByUser(ctx, userID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "list payments"))
			return
		}
		responses.WriteSuccess(w, page)
	}
}
