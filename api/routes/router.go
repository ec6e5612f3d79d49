package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echocrm/backend/api/controllers"
	"github.com/echocrm/backend/api/middleware"
	"github.com/echocrm/backend/internal/campaigns"
	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/orders"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/config"
	"github.com/echocrm/backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP surface: ingestion endpoints that enqueue work,
// synchronous reads, the segment preview, campaign management, and the
// vendor receipt webhook.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pinger,
	brokerP pinger,
	publisher broker.Publisher,
	customerService customers.Service,
	orderService orders.Service,
	campaignService campaigns.Service,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, brokerP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", controllers.CustomerCreate(customerService, logg))
			r.Get("/", controllers.CustomerList(customerService, logg))
			r.Get("/{customerId}", controllers.CustomerGet(customerService, logg))
			r.Get("/{customerId}/orders", controllers.CustomerOrders(orderService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(orderService, logg))
			r.Get("/{orderId}", controllers.OrderGet(orderService, logg))
		})

		r.Post("/segments/preview", controllers.SegmentPreview(customerService, logg))

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", controllers.CampaignCreate(campaignService, logg))
			r.Get("/", controllers.CampaignHistory(campaignService, logg))
			r.Get("/{campaignId}", controllers.CampaignDetails(campaignService, logg))
		})

		r.Post("/delivery-receipts/webhook", controllers.DeliveryReceiptWebhook(publisher, logg, cfg.Broker.DeliveryReceiptQueue))
	})

	return r
}
