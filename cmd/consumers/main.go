package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echocrm/backend/internal/campaigns"
	campaignconsumer "github.com/echocrm/backend/internal/consumers/campaigns"
	"github.com/echocrm/backend/internal/consumers/ingestion"
	"github.com/echocrm/backend/internal/consumers/receipts"
	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/delivery"
	"github.com/echocrm/backend/internal/orders"
	"github.com/echocrm/backend/internal/vendor"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/config"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/metrics"
	"github.com/echocrm/backend/pkg/migrate"
)

const consumeRetryDelay = 5 * time.Second

type runner interface {
	Run(ctx context.Context, client *broker.Client) error
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "consumers"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "consumers",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	brokerClient := broker.New(cfg.Broker, logg)
	if err := brokerClient.Connect(ctx); err != nil {
		logg.Error(ctx, "failed to connect to broker", err)
		os.Exit(1)
	}
	defer func() {
		if err := brokerClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing broker", err)
		}
	}()

	consumerMetrics := metrics.NewConsumerMetrics(prometheus.DefaultRegisterer)

	customerRepo := customers.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	campaignRepo := campaigns.NewRepository(dbClient.DB())
	deliveryRepo := delivery.NewRepository(dbClient.DB())

	customerService, err := customers.NewService(customerRepo, dbClient, brokerClient, logg, cfg.Broker.DataIngestionQueue)
	if err != nil {
		logg.Error(ctx, "failed to create customer service", err)
		os.Exit(1)
	}
	orderService, err := orders.NewService(orderRepo, customerRepo, dbClient, brokerClient, logg, cfg.Broker.DataIngestionQueue)
	if err != nil {
		logg.Error(ctx, "failed to create order service", err)
		os.Exit(1)
	}

	sender := vendor.New(cfg.Vendor, logg)
	defer sender.Flush()

	ingestionConsumer, err := ingestion.NewConsumer(customerService, orderService, logg, consumerMetrics, cfg.Broker.DataIngestionQueue, cfg.Consumers.IngestionPrefetch)
	if err != nil {
		logg.Error(ctx, "failed to create ingestion consumer", err)
		os.Exit(1)
	}
	orchestrator, err := campaignconsumer.NewOrchestrator(campaignRepo, customerRepo, deliveryRepo, sender, logg, consumerMetrics, cfg.Broker.CampaignQueue, cfg.Consumers.CampaignPrefetch)
	if err != nil {
		logg.Error(ctx, "failed to create campaign orchestrator", err)
		os.Exit(1)
	}
	receiptConsumer, err := receipts.NewConsumer(deliveryRepo, logg, consumerMetrics, cfg.Broker.DeliveryReceiptQueue, cfg.Consumers.ReceiptPrefetch, cfg.Consumers.ReceiptBatchSize, cfg.Consumers.ReceiptBatchInterval)
	if err != nil {
		logg.Error(ctx, "failed to create receipt consumer", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    ":" + cfg.Consumers.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(context.Background(), "metrics server stopped unexpectedly", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting consumers")

	var wg sync.WaitGroup
	runConsumer(ctx, &wg, logg, brokerClient, "ingestion", ingestionConsumer)
	runConsumer(ctx, &wg, logg, brokerClient, "campaigns", orchestrator)
	runConsumer(ctx, &wg, logg, brokerClient, "receipts", receiptConsumer)

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "metrics server shutdown failed", err)
	}

	logg.Info(context.Background(), "consumers stopped")
}

// runConsumer keeps one consumer attached to its queue. Consume returns when
// the delivery stream drops; the broker client reconnects underneath, so the
// loop just waits and reattaches.
func runConsumer(ctx context.Context, wg *sync.WaitGroup, logg *logger.Logger, client *broker.Client, name string, c runner) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logCtx := logg.WithField(ctx, "consumer", name)
		for {
			err := c.Run(ctx, client)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logg.Error(logCtx, "consumer stream dropped, reattaching", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumeRetryDelay):
			}
		}
	}()
}
