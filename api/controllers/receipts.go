package controllers

import (
	"net/http"
	"time"

	"github.com/echocrm/backend/api/responses"
	"github.com/echocrm/backend/api/validators"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/enums"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

type deliveryReceiptRequest struct {
	MessageID     string     `json:"messageId" validate:"required,uuid"`
	Status        string     `json:"status" validate:"required"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// DeliveryReceiptWebhook accepts vendor receipt callbacks and hands them to
// the receipt queue. The webhook never touches the database; the batching
// consumer owns the writes.
func DeliveryReceiptWebhook(publisher broker.Publisher, logg *logger.Logger, queue string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if publisher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "broker unavailable"))
			return
		}

		var payload deliveryReceiptRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := enums.ParseDeliveryStatus(payload.Status); err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown delivery status"))
			return
		}

		envelope, err := events.NewEnvelope(events.TypeDeliveryReceiptUpdate, events.ReceiptPayload{
			MessageID:     payload.MessageID,
			Status:        payload.Status,
			Timestamp:     payload.Timestamp,
			FailureReason: payload.FailureReason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode receipt message"))
			return
		}

		if !publisher.Publish(r.Context(), queue, envelope) {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "failed to enqueue delivery receipt"))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}
