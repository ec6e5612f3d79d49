package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/echocrm/backend/api/responses"
	"github.com/echocrm/backend/api/validators"
	"github.com/echocrm/backend/internal/campaigns"
	"github.com/echocrm/backend/pkg/db/models"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/pagination"
)

type campaignCreateRequest struct {
	Name            string        `json:"name" validate:"required,min=1,max=200"`
	Description     string        `json:"description,omitempty"`
	Rules           []models.Rule `json:"rules" validate:"required"`
	Objective       string        `json:"objective,omitempty"`
	MessageTemplate string        `json:"messageTemplate" validate:"required"`
	CreatedBy       string        `json:"createdBy" validate:"required,uuid"`
}

// CampaignCreate stores the campaign, reserves quota, and enqueues the
// delivery job. The response carries the stored campaign in PROCESSING state.
func CampaignCreate(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "campaign service unavailable"))
			return
		}

		var payload campaignCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		createdBy, err := uuid.Parse(payload.CreatedBy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid creator id"))
			return
		}

		campaign, err := svc.Create(r.Context(), campaigns.CreateInput{
			Name:            payload.Name,
			Description:     payload.Description,
			Rules:           payload.Rules,
			Objective:       payload.Objective,
			MessageTemplate: payload.MessageTemplate,
			CreatedBy:       createdBy,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, campaign)
	}
}

// CampaignHistory returns one cursor page of campaigns with per-status
// delivery stats, newest first.
func CampaignHistory(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "campaign service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := campaigns.HistoryInput{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}
		if raw := r.URL.Query().Get("createdBy"); raw != "" {
			createdBy, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid creator id"))
				return
			}
			input.CreatedBy = &createdBy
		}

		result, err := svc.History(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// CampaignDetails returns one campaign with delivery stats and a sample of
// recent delivery log rows.
func CampaignDetails(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "campaign service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid campaign id"))
			return
		}

		details, err := svc.Details(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, details)
	}
}
