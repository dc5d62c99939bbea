package models

import "strings"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusPaid      PaymentStatus = "PAID"
	StatusSettled   PaymentStatus = "SETTLED"
	StatusSucceeded PaymentStatus = "SUCCEEDED"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusExpired   PaymentStatus = "EXPIRED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusUnknown   PaymentStatus = "UNKNOWN"
)

// ParseStatus upper-cases a provider status. An empty value becomes UNKNOWN.
func ParseStatus(s string) PaymentStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StatusUnknown
	}
	return PaymentStatus(s)
}

func (s PaymentStatus) String() string {
	return string(s)
}

// IsSuccess reports whether the status should trigger a device dispatch.
func (s PaymentStatus) IsSuccess() bool {
	switch s {
	case StatusPaid, StatusSettled, StatusSucceeded, StatusCompleted:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminalFailure() bool {
	switch s {
	case StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Order is the record kept under transactions/{orderId}.
type Order struct {
	OrderID         string        `json:"orderId"`
	Amount          int64         `json:"amount"`
	Volume          float64       `json:"volume"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	Event           string        `json:"event,omitempty"`
	InvoiceID       string        `json:"invoiceId,omitempty"`
	InvoiceURL      string        `json:"invoiceUrl,omitempty"`
	ExpiryDate      string        `json:"expiryDate,omitempty"`
	PayerEmail      string        `json:"payerEmail,omitempty"`
	Description     string        `json:"description,omitempty"`
	Simulated       bool          `json:"simulated"`
	Dispatched      bool          `json:"dispatched"`
	WebhookReceived bool          `json:"webhookReceived"`
	CreatedAt       int64         `json:"createdAt"`
	UpdatedAt       int64         `json:"updatedAt"`
}

// OrderPatch is a partial update. Nil fields are left untouched.
type OrderPatch struct {
	PaymentStatus   *PaymentStatus `json:"paymentStatus,omitempty"`
	Event           *string        `json:"event,omitempty"`
	Amount          *int64         `json:"amount,omitempty"`
	InvoiceID       *string        `json:"invoiceId,omitempty"`
	InvoiceURL      *string        `json:"invoiceUrl,omitempty"`
	ExpiryDate      *string        `json:"expiryDate,omitempty"`
	Simulated       *bool          `json:"simulated,omitempty"`
	WebhookReceived *bool          `json:"webhookReceived,omitempty"`
	UpdatedAt       int64          `json:"updatedAt"`
}

// Apply merges the patch into o.
func (p OrderPatch) Apply(o *Order) {
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.Event != nil {
		o.Event = *p.Event
	}
	if p.Amount != nil {
		o.Amount = *p.Amount
	}
	if p.InvoiceID != nil {
		o.InvoiceID = *p.InvoiceID
	}
	if p.InvoiceURL != nil {
		o.InvoiceURL = *p.InvoiceURL
	}
	if p.ExpiryDate != nil {
		o.ExpiryDate = *p.ExpiryDate
	}
	if p.Simulated != nil {
		o.Simulated = *p.Simulated
	}
	if p.WebhookReceived != nil {
		o.WebhookReceived = *p.WebhookReceived
	}
	o.UpdatedAt = p.UpdatedAt
}

type CreatePaymentRequest struct {
	OrderID     string   `json:"orderId"`
	Amount      *int64   `json:"amount"`
	Volume      *float64 `json:"volume,omitempty"`
	PayerEmail  string   `json:"payerEmail,omitempty"`
	Description string   `json:"description,omitempty"`
}

type CreatePaymentResponse struct {
	Success    bool          `json:"success"`
	OrderID    string        `json:"orderId"`
	InvoiceID  string        `json:"invoiceId"`
	InvoiceURL string        `json:"invoiceUrl"`
	QRCodeURL  string        `json:"qrCodeUrl"`
	ExpiryDate string        `json:"expiryDate,omitempty"`
	Status     PaymentStatus `json:"status"`
	Simulated  bool          `json:"simulated"`
}

type StatusResponse struct {
	Success    bool          `json:"success"`
	OrderID    string        `json:"orderId"`
	Status     PaymentStatus `json:"status"`
	Amount     int64         `json:"amount"`
	Volume     float64       `json:"volume"`
	Dispatched bool          `json:"dispatched"`
	CreatedAt  int64         `json:"createdAt"`
	UpdatedAt  int64         `json:"updatedAt"`
	Device     *DeviceStatus `json:"device"`
	Timestamp  string        `json:"timestamp"`
}

type WebhookResponse struct {
	Success     bool          `json:"success"`
	Received    bool          `json:"received,omitempty"`
	Message     string        `json:"message,omitempty"`
	OrderID     string        `json:"orderId,omitempty"`
	Status      PaymentStatus `json:"status,omitempty"`
	Event       string        `json:"event,omitempty"`
	Dispatched  bool          `json:"dispatched"`
	Duplicate   bool          `json:"duplicate,omitempty"`
	Error       string        `json:"error,omitempty"`
	Note        string        `json:"note,omitempty"`
	ProcessedAt string        `json:"processedAt"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
}
