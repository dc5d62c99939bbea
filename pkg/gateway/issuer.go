package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/provider"
	"waterstation-gateway/pkg/store"
	"waterstation-gateway/pkg/utils"
)

const (
	invoiceKindReal      = "real"
	invoiceKindSimulated = "simulated"
)

func validateCreatePayment(req models.CreatePaymentRequest) []string {
	var fields []string
	if strings.TrimSpace(req.OrderID) == "" {
		fields = append(fields, "orderId")
	}
	if req.Amount == nil || *req.Amount <= 0 {
		fields = append(fields, "amount")
	}
	if req.Volume != nil && (*req.Volume <= 0 || math.IsNaN(*req.Volume) || math.IsInf(*req.Volume, 0)) {
		fields = append(fields, "volume")
	}
	return fields
}

// CreatePayment persists a pending order and returns a payable invoice, real
// or simulated. Store writes are best-effort; the invoice is what matters.
func (s *Service) CreatePayment(ctx context.Context, correlationID string, req models.CreatePaymentRequest) (*models.CreatePaymentResponse, error) {
	logPrefix := logging.Prefix(correlationID)
	if fields := validateCreatePayment(req); len(fields) > 0 {
		return nil, &ValidationError{Message: "missing or invalid fields", Fields: fields}
	}

	orderID := strings.TrimSpace(req.OrderID)
	volume := s.cfg.DefaultVolume
	if req.Volume != nil {
		volume = *req.Volume
	}
	description := req.Description
	if description == "" {
		description = "Drinking water " + strconv.FormatFloat(volume, 'f', -1, 64) + "ml"
	}
	payerEmail := req.PayerEmail
	if payerEmail == "" {
		payerEmail = s.cfg.Invoice.DefaultPayerEmail
	}

	now := s.nowMillis()
	order := models.Order{
		OrderID:       orderID,
		Amount:        *req.Amount,
		Volume:        volume,
		PaymentStatus: models.StatusPending,
		PayerEmail:    payerEmail,
		Description:   description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	dispensed := false
	s.call(ctx, logPrefix, "store.put_transaction", bestEffort, func(ctx context.Context) error {
		err := s.store.PutTransaction(ctx, order)
		if errors.Is(err, store.ErrAlreadyDispatched) {
			dispensed = true
			return nil
		}
		return err
	})
	if dispensed {
		s.logger.Warn(logPrefix+"Refusing to re-issue a dispensed order", "order_id", orderID)
		return nil, &ConflictError{Message: fmt.Sprintf("order %s has already been dispensed", orderID)}
	}

	inv, simulated := s.requestInvoice(ctx, logPrefix, order)
	if simulated {
		s.metrics.Invoices.WithLabelValues(invoiceKindSimulated).Inc()
	} else {
		s.metrics.Invoices.WithLabelValues(invoiceKindReal).Inc()
	}

	patch := models.OrderPatch{
		InvoiceID:  &inv.ID,
		InvoiceURL: &inv.InvoiceURL,
		Simulated:  &simulated,
		UpdatedAt:  s.nowMillis(),
	}
	if inv.ExpiryDate != "" {
		patch.ExpiryDate = &inv.ExpiryDate
	}
	s.call(ctx, logPrefix, "store.patch_transaction", bestEffort, func(ctx context.Context) error {
		return s.store.PatchTransaction(ctx, orderID, patch)
	})

	s.logger.Info(logPrefix+"Invoice issued", "order_id", orderID, "invoice_id", inv.ID, "simulated", simulated)

	return &models.CreatePaymentResponse{
		Success:    true,
		OrderID:    orderID,
		InvoiceID:  inv.ID,
		InvoiceURL: inv.InvoiceURL,
		QRCodeURL:  s.qrCodeURL(inv.InvoiceURL),
		ExpiryDate: inv.ExpiryDate,
		Status:     models.StatusPending,
		Simulated:  simulated,
	}, nil
}

func (s *Service) requestInvoice(ctx context.Context, logPrefix string, order models.Order) (provider.Invoice, bool) {
	if !s.cfg.ProviderConfigured() || s.provider == nil {
		s.logger.Info(logPrefix+"Payment provider not configured, using simulated invoice", "order_id", order.OrderID)
		return s.simulatedInvoice(order.OrderID), true
	}

	var inv *provider.Invoice
	res := s.call(ctx, logPrefix, "provider.create_invoice", bestEffort, func(ctx context.Context) error {
		var err error
		inv, err = s.provider.CreateInvoice(ctx, provider.InvoiceRequest{
			ExternalID:         order.OrderID,
			Amount:             order.Amount,
			Description:        order.Description,
			Currency:           s.cfg.Invoice.Currency,
			PayerEmail:         order.PayerEmail,
			SuccessRedirectURL: s.cfg.Invoice.SuccessRedirectURL,
			FailureRedirectURL: s.cfg.Invoice.FailureRedirectURL,
			InvoiceDuration:    s.cfg.Invoice.DurationSeconds,
			PaymentMethods:     s.cfg.Invoice.PaymentMethods,
		})
		return err
	})
	if !res.ok() || inv == nil {
		s.logger.Warn(logPrefix+"Falling back to simulated invoice", "order_id", order.OrderID)
		return s.simulatedInvoice(order.OrderID), true
	}
	return *inv, false
}

func (s *Service) simulatedInvoice(orderID string) provider.Invoice {
	id := utils.SimulatedInvoiceID()
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("invoiceId", id)
	return provider.Invoice{
		ID:         id,
		ExternalID: orderID,
		InvoiceURL: s.cfg.Invoice.PublicBaseURL + "/simulate-checkout?" + q.Encode(),
		Status:     string(models.StatusPending),
	}
}

func (s *Service) qrCodeURL(target string) string {
	return s.cfg.Invoice.QRServiceURL + url.QueryEscape(target)
}
