package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/gateway"
	"waterstation-gateway/pkg/httpclient"
	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/metrics"
	"waterstation-gateway/pkg/nats"
	"waterstation-gateway/pkg/provider"
	"waterstation-gateway/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, flush, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer flush()

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("Failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics.NewRegistry()),
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error("Failed to initialize NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		opts = append(opts, gateway.WithNotifier(nc))
	}

	invoices := provider.NewXendit(httpclient.NewClient(cfg.UpstreamTimeout), cfg.ProviderBaseURL, cfg.ProviderSecretKey)
	svc := gateway.NewService(cfg, st, invoices, opts...)
	router := gateway.NewRouter(&gateway.Handler{Service: svc, AllowedOrigins: cfg.AllowedOrigins})

	logger.Info("Gateway configuration",
		"store_backend", cfg.StoreBackend,
		"provider_configured", cfg.ProviderConfigured(),
		"webhook_token_set", cfg.WebhookToken != "",
		"nats_enabled", cfg.NATSURL != "",
		"device_id", cfg.DeviceID,
	)
	if cfg.WebhookToken == "" {
		logger.Warn("WEBHOOK_TOKEN is not set, every webhook will be rejected")
	}

	srv := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err)
		}
	}()

	logger.Info("Water station gateway starting", "address", cfg.RunAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to start server", "error", err)
	}
}
