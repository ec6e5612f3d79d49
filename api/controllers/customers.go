package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/echocrm/backend/api/responses"
	"github.com/echocrm/backend/api/validators"
	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/events"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/pagination"
)

type customerIngestRequest struct {
	Name             string         `json:"name"`
	Email            string         `json:"email" validate:"required,email"`
	Phone            string         `json:"phone,omitempty"`
	TotalSpends      *float64       `json:"totalSpends,omitempty" validate:"omitempty,min=0"`
	VisitCount       *int           `json:"visitCount,omitempty" validate:"omitempty,min=0"`
	LastSeen         *time.Time     `json:"lastSeen,omitempty"`
	LastPurchaseDate *time.Time     `json:"lastPurchaseDate,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CustomFields     map[string]any `json:"customFields,omitempty"`
}

func (r customerIngestRequest) toPayload() events.CustomerPayload {
	return events.CustomerPayload{
		Name:             r.Name,
		Email:            r.Email,
		Phone:            r.Phone,
		TotalSpends:      r.TotalSpends,
		VisitCount:       r.VisitCount,
		LastSeen:         r.LastSeen,
		LastPurchaseDate: r.LastPurchaseDate,
		Tags:             r.Tags,
		CustomFields:     r.CustomFields,
	}
}

// CustomerCreate validates the payload and enqueues it for asynchronous
// ingestion. The API accepts the customer before any database write happens.
func CustomerCreate(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		var payload customerIngestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Queue(r.Context(), payload.toPayload()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// CustomerList returns one cursor page of customers with optional name or
// email search.
func CustomerList(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), customers.ListInput{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
			Search: validators.SanitizeString(r.URL.Query().Get("search"), 200),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, page)
	}
}

// CustomerGet returns one customer by id.
func CustomerGet(svc customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "customerId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
			return
		}

		customer, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, customer)
	}
}
