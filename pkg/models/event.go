package models

import "time"

// PaymentStatusMessage is published on payment.status after every reconciled notification.
type PaymentStatusMessage struct {
	OrderID       string        `json:"order_id"`
	Status        PaymentStatus `json:"status"`
	Amount        int64         `json:"amount"`
	Event         string        `json:"event"`
	ReceivedAt    time.Time     `json:"received_at"`
	CorrelationID string        `json:"correlation_id"`
}

// CommandMessage is published on device.command.<deviceId> after a dispatch.
type CommandMessage struct {
	Command       DeviceCommand `json:"command"`
	CorrelationID string        `json:"correlation_id"`
}

// SimulatePaidRequest drives the provider sandbox.
type SimulatePaidRequest struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status,omitempty"`
	Deliveries    int    `json:"deliveries,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type SimulatePaidResponse struct {
	Status     string `json:"status"`
	Deliveries int    `json:"deliveries"`
	Accepted   int    `json:"accepted"`
}
