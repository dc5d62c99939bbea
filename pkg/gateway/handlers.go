package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waterstation-gateway/pkg/models"
)

const (
	Version = "2.0.0"

	callbackTokenHeader = "x-callback-token"
	maxBodyBytes        = 1 << 20
)

type Handler struct {
	Service        *Service
	AllowedOrigins []string
}

type ctxKey int

const correlationKey ctxKey = iota

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func correlationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

type indexResponse struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Endpoints   map[string]string `json:"endpoints"`
	CORSEnabled bool              `json:"cors_enabled"`
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Success:   true,
		Message:   "Water Station Payment Gateway",
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Endpoints: map[string]string{
			"createPayment": "POST /create-payment",
			"checkStatus":   "GET /check-status?orderId=",
			"webhook":       "POST /webhook",
			"health":        "GET /health",
			"metrics":       "GET /metrics",
		},
		CORSEnabled: len(h.AllowedOrigins) > 0,
	})
}

// createPaymentBody keeps numbers raw so a fractional or non-numeric amount
// is reported as an invalid field instead of a decode failure.
type createPaymentBody struct {
	OrderID     string      `json:"orderId"`
	Amount      json.Number `json:"amount"`
	Volume      json.Number `json:"volume"`
	PayerEmail  string      `json:"payerEmail"`
	Description string      `json:"description"`
}

func (b createPaymentBody) request() (models.CreatePaymentRequest, []string) {
	req := models.CreatePaymentRequest{
		OrderID:     b.OrderID,
		PayerEmail:  b.PayerEmail,
		Description: b.Description,
	}
	var invalid []string
	if b.Amount != "" {
		v, err := strconv.ParseInt(b.Amount.String(), 10, 64)
		if err != nil {
			invalid = append(invalid, "amount")
		} else {
			req.Amount = &v
		}
	}
	if b.Volume != "" {
		v, err := b.Volume.Float64()
		if err != nil {
			invalid = append(invalid, "volume")
		} else {
			req.Volume = &v
		}
	}
	return req, invalid
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var body createPaymentBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, &ValidationError{Message: "invalid request body"})
		return
	}

	req, invalid := body.request()
	if len(invalid) > 0 {
		fields := validateCreatePayment(req)
		for _, f := range invalid {
			if !contains(fields, f) {
				fields = append(fields, f)
			}
		}
		writeError(w, &ValidationError{Message: "missing or invalid fields", Fields: fields})
		return
	}

	resp, err := h.Service.CreatePayment(r.Context(), correlationID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("orderId")
	if strings.TrimSpace(orderID) == "" {
		orderID = q.Get("payment_id")
	}

	resp, err := h.Service.CheckStatus(r.Context(), correlationID(r), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Webhook answers 200 for every authenticated delivery.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		// An unreadable body has no order id; treat it like any other unidentifiable event.
		body = nil
	}

	resp, err := h.Service.HandleWebhook(r.Context(), correlationID(r), r.Header.Get(callbackTokenHeader), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
