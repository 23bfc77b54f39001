package controllers

import (
	"net/http"

	"github.com/echowrite-ai/echowrite-backend/api/responses"
	"github.com/echowrite-ai/echowrite-backend/internal/catalog"
	"github.com/echowrite-ai/echowrite-backend/pkg/logger"
)

// Plans lists the plan catalog. Public; no auth required.
func Plans(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"plans": svc.List(r.Context())})
	}
}
