package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/httpclient"
	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/provider"
	"waterstation-gateway/pkg/utils"
	"waterstation-gateway/pkg/webhook"
)

const maxDeliveries = 10

type sandbox struct {
	cfg    *config.Config
	client *httpclient.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	_, flush, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer flush()

	s := &sandbox{cfg: cfg, client: httpclient.NewClient(cfg.UpstreamTimeout)}

	r := chi.NewRouter()
	r.Post("/v2/invoices", s.createInvoice)
	r.Post("/simulate-paid", s.simulatePaid)
	r.Get("/health", healthCheck)

	slog.Info("Provider sandbox configuration", "webhook_url", cfg.Sandbox.WebhookURL, "auth_required", cfg.Sandbox.SecretKey != "")
	slog.Info("Provider sandbox starting", "address", cfg.Sandbox.RunAddress)
	if err := http.ListenAndServe(cfg.Sandbox.RunAddress, r); err != nil {
		slog.Error("Failed to start server", "error", err)
	}
}

func (s *sandbox) createInvoice(w http.ResponseWriter, r *http.Request) {
	if key := s.cfg.Sandbox.SecretKey; key != "" {
		user, _, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(key)) != 1 {
			http.Error(w, `{"error_code":"INVALID_API_KEY"}`, http.StatusUnauthorized)
			return
		}
	}

	var req provider.InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	correlationID := utils.CorrelationID(r)
	logPrefix := logging.Prefix(correlationID)

	if strings.TrimSpace(req.ExternalID) == "" || req.Amount <= 0 {
		slog.Warn(logPrefix+"Rejected invoice request", "external_id", req.ExternalID, "amount", req.Amount)
		http.Error(w, `{"error_code":"API_VALIDATION_ERROR"}`, http.StatusBadRequest)
		return
	}

	duration := time.Duration(req.InvoiceDuration) * time.Second
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	id := utils.GenerateUUID7()
	inv := provider.Invoice{
		ID:         id,
		ExternalID: req.ExternalID,
		InvoiceURL: "http://localhost" + s.cfg.Sandbox.RunAddress + "/checkout/" + id,
		ExpiryDate: time.Now().Add(duration).UTC().Format(time.RFC3339),
		Status:     string(models.StatusPending),
		Amount:     req.Amount,
	}

	slog.Info(logPrefix+"Sandbox invoice created", "invoice_id", inv.ID, "external_id", inv.ExternalID, "amount", inv.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// simulatePaid delivers the paid notification the way the provider does:
// at least once, sometimes several times at the same moment.
func (s *sandbox) simulatePaid(w http.ResponseWriter, r *http.Request) {
	var req models.SimulatePaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.OrderID) == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.CorrelationID == "" {
		req.CorrelationID = utils.GenerateCorrelationID()
	}
	logPrefix := logging.Prefix(req.CorrelationID)

	status := req.Status
	if status == "" {
		status = string(models.StatusPaid)
	}
	deliveries := req.Deliveries
	if deliveries <= 0 {
		deliveries = utils.DeterminePublishCount()
	}
	if deliveries > maxDeliveries {
		deliveries = maxDeliveries
	}

	slog.Info(logPrefix+"Publish count", "count", deliveries, "order_id", req.OrderID, "status", status)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.deliver(r.Context(), req, status, webhook.ShapeFor(i)) {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.SimulatePaidResponse{
		Status:     "success",
		Deliveries: deliveries,
		Accepted:   int(accepted.Load()),
	})
}

func (s *sandbox) deliver(ctx context.Context, req models.SimulatePaidRequest, status string, shape webhook.Shape) bool {
	logPrefix := logging.Prefix(req.CorrelationID)

	resp, err := s.client.PostJSON(ctx, s.cfg.Sandbox.WebhookURL, shape.Payload(req.OrderID, status, req.Amount),
		httpclient.WithHeader("x-callback-token", s.cfg.WebhookToken),
		httpclient.WithHeader(utils.CorrelationHeader, req.CorrelationID),
	)
	if err != nil {
		if s.client.IsTimeoutError(err) {
			slog.Error(logPrefix+"Webhook delivery timeout", "order_id", req.OrderID, "shape", shape.String())
		} else {
			slog.Error(logPrefix+"Webhook delivery failed", "order_id", req.OrderID, "error", err)
		}
		return false
	}

	var body models.WebhookResponse
	if err := s.client.DecodeJSONResponse(resp, &body); err != nil {
		slog.Error(logPrefix+"Failed to decode webhook response", "status", resp.StatusCode, "error", err)
		return false
	}

	slog.Info(logPrefix+"Webhook delivered", "order_id", req.OrderID, "shape", shape.String(),
		"http_status", resp.StatusCode, "success", body.Success, "dispatched", body.Dispatched, "duplicate", body.Duplicate)
	return resp.StatusCode == http.StatusOK && body.Success
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
