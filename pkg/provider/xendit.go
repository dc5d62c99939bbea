// Package provider talks to the payment provider's invoice API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"waterstation-gateway/pkg/httpclient"
)

var ErrNotConfigured = errors.New("payment provider is not configured")

type InvoiceRequest struct {
	ExternalID         string   `json:"external_id"`
	Amount             int64    `json:"amount"`
	Description        string   `json:"description"`
	Currency           string   `json:"currency"`
	PayerEmail         string   `json:"payer_email,omitempty"`
	SuccessRedirectURL string   `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string   `json:"failure_redirect_url,omitempty"`
	InvoiceDuration    int      `json:"invoice_duration,omitempty"`
	PaymentMethods     []string `json:"payment_methods,omitempty"`
}

type Invoice struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	InvoiceURL string `json:"invoice_url"`
	ExpiryDate string `json:"expiry_date"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// Xendit creates invoices with POST {base}/v2/invoices, authenticating with
// the secret key as the basic-auth user and an empty password.
type Xendit struct {
	client    *httpclient.Client
	baseURL   string
	secretKey string
}

func NewXendit(client *httpclient.Client, baseURL, secretKey string) *Xendit {
	return &Xendit{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
	}
}

func (x *Xendit) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if x.secretKey == "" {
		return nil, ErrNotConfigured
	}

	resp, err := x.client.PostJSON(ctx, x.baseURL+"/v2/invoices", req,
		httpclient.WithBasicAuth(x.secretKey, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to call invoice API: %w", err)
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("invoice API rejected request: %w", err)
	}

	var inv Invoice
	if err := x.client.DecodeJSONResponse(resp, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	if inv.ID == "" || inv.InvoiceURL == "" {
		return nil, fmt.Errorf("invoice API returned incomplete invoice for %s", req.ExternalID)
	}
	return &inv, nil
}
