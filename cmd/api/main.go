package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echocrm/backend/api/routes"
	"github.com/echocrm/backend/internal/campaigns"
	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/delivery"
	"github.com/echocrm/backend/internal/orders"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/config"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/migrate"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	campaignService, err := campaigns.NewService(campaignRepo, deliveryRepo, dbClient, brokerClient, logg, cfg.Broker.CampaignQueue, cfg.Quota.FreeTierCampaignLimit)
	if err != nil {
		logg.Error(ctx, "failed to create campaign service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			brokerClient,
			brokerClient,
			customerService,
			orderService,
			campaignService,
		),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(context.Background(), "api server stopped")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}
}
