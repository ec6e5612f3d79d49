package controllers

import (
	"net/http"

	"github.com/echocrm/backend/api/responses"
	"github.com/echocrm/backend/api/validators"
	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/pkg/db/models"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

type segmentPreviewRequest struct {
	Rules []models.Rule `json:"rules" validate:"required"`
}

// SegmentPreview evaluates a rule list against the live customer base and
// returns the audience size without creating anything.
func SegmentPreview(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		var payload segmentPreviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		count, err := svc.CountMatching(r.Context(), payload.Rules)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]int{"matchedCount": count})
	}
}
