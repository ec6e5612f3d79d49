package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/echocrm/backend/api/responses"
	"github.com/echocrm/backend/api/validators"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/internal/orders"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

type orderItemRequest struct {
	ProductID   string  `json:"productId,omitempty"`
	ProductName string  `json:"productName" validate:"required"`
	Quantity    int     `json:"quantity" validate:"required,min=1"`
	Price       float64 `json:"price" validate:"min=0"`
}

type orderIngestRequest struct {
	CustomerID  string             `json:"customerId" validate:"required,uuid"`
	OrderNumber string             `json:"orderNumber" validate:"required"`
	OrderDate   *time.Time         `json:"orderDate,omitempty"`
	Status      string             `json:"status,omitempty"`
	Items       []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r orderIngestRequest) toPayload() events.OrderPayload {
	items := make([]events.OrderItemPayload, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, events.OrderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return events.OrderPayload{
		CustomerID:  r.CustomerID,
		OrderNumber: r.OrderNumber,
		OrderDate:   r.OrderDate,
		Status:      r.Status,
		Items:       items,
	}
}

// OrderCreate validates the payload and enqueues it for asynchronous
// ingestion. Totals are recomputed from the line items during ingestion, so
// the API does not accept a client-provided total.
func OrderCreate(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload orderIngestRequest
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

// OrderGet returns one order with its line items.
func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// CustomerOrders lists a customer's orders, most recent first.
func CustomerOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		customerID, err := uuid.Parse(chi.URLParam(r, "customerId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer id"))
			return
		}

		list, err := svc.ListByCustomer(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"orders": list})
	}
}
