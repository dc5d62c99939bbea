// Package webhook turns the provider's notification bodies into a single
// canonical shape. The provider has sent at least three incompatible layouts
// over time; each is handled by one extraction strategy, tried in order.
package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"waterstation-gateway/pkg/models"
)

const UnknownEvent = "unknown"

// Notification is the canonical (orderId, status, amount) triple plus context.
type Notification struct {
	OrderID  string
	Status   models.PaymentStatus
	Amount   int64
	Event    string
	Strategy string
}

type payload struct {
	Event      flexString      `json:"event"`
	ExternalID flexString      `json:"external_id"`
	ID         flexString      `json:"id"`
	Status     flexString      `json:"status"`
	Amount     flexAmount      `json:"amount"`
	PaidAmount flexAmount      `json:"paid_amount"`
	Data       json.RawMessage `json:"data"`
}

type dataPayload struct {
	ReferenceID      flexString `json:"reference_id"`
	ExternalID       flexString `json:"external_id"`
	PaymentRequestID flexString `json:"payment_request_id"`
	ID               flexString `json:"id"`
	Status           flexString `json:"status"`
	Amount           flexAmount `json:"amount"`
	RequestAmount    flexAmount `json:"request_amount"`
}

type strategy struct {
	name    string
	extract func(p payload, d *dataPayload) (orderID string, status string, amount int64)
}

var strategies = []strategy{
	{
		name: "external_id",
		extract: func(p payload, _ *dataPayload) (string, string, int64) {
			return string(p.ExternalID), string(p.Status), firstPositive(p.PaidAmount, p.Amount)
		},
	},
	{
		name: "data",
		extract: func(p payload, d *dataPayload) (string, string, int64) {
			if d == nil {
				return "", "", 0
			}
			id := firstNonEmpty(d.ReferenceID, d.ExternalID, d.PaymentRequestID, d.ID)
			status := firstNonEmpty(d.Status, p.Status)
			return id, status, firstPositive(d.Amount, d.RequestAmount)
		},
	},
	{
		name: "id",
		extract: func(p payload, _ *dataPayload) (string, string, int64) {
			return string(p.ID), string(p.Status), firstPositive(p.PaidAmount, p.Amount)
		},
	},
}

// EventName returns the notification's event name, or "unknown", even for
// bodies Normalize rejects.
func EventName(body []byte) string {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil || strings.TrimSpace(string(p.Event)) == "" {
		return UnknownEvent
	}
	return strings.TrimSpace(string(p.Event))
}

// Normalize reports false when no strategy yields an order id; such bodies
// are non-transactional events. Malformed JSON is treated the same way.
func Normalize(body []byte) (Notification, bool) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, false
	}

	var d *dataPayload
	if raw := bytes.TrimSpace(p.Data); len(raw) > 0 && raw[0] == '{' {
		var dp dataPayload
		if err := json.Unmarshal(raw, &dp); err == nil {
			d = &dp
		}
	}

	event := strings.TrimSpace(string(p.Event))
	if event == "" {
		event = UnknownEvent
	}

	for _, s := range strategies {
		id, status, amount := s.extract(p, d)
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		return Notification{
			OrderID:  id,
			Status:   models.ParseStatus(status),
			Amount:   amount,
			Event:    event,
			Strategy: s.name,
		}, true
	}
	return Notification{}, false
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

func firstPositive(values ...flexAmount) int64 {
	for _, v := range values {
		if v > 0 {
			return int64(v)
		}
	}
	return 0
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// Objects, arrays and booleans carry no usable identifier.
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// flexAmount accepts a JSON number or a numeric string, rounded to minor units.
type flexAmount int64

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = flexAmount(math.Round(v))
	return nil
}
