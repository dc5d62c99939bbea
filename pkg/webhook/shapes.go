package webhook

// Shape identifies one of the provider's notification layouts.
type Shape int

const (
	ShapeInvoice Shape = iota
	ShapeQRPayment
	ShapePaymentRequest
	shapeCount
)

// ShapeFor rotates through the known layouts.
func ShapeFor(i int) Shape {
	if i < 0 {
		i = -i
	}
	return Shape(i % int(shapeCount))
}

func (s Shape) String() string {
	switch s {
	case ShapeInvoice:
		return "invoice"
	case ShapeQRPayment:
		return "qr_payment"
	case ShapePaymentRequest:
		return "payment_request"
	}
	return "unknown"
}

// Payload builds a notification body in the given layout, as the provider
// would send it for orderID.
func (s Shape) Payload(orderID, status string, amount int64) map[string]interface{} {
	switch s {
	case ShapeQRPayment:
		return map[string]interface{}{
			"event": "qr.payment",
			"data": map[string]interface{}{
				"reference_id": orderID,
				"status":       status,
				"amount":       amount,
			},
		}
	case ShapePaymentRequest:
		return map[string]interface{}{
			"event":  "payment.succeeded",
			"id":     orderID,
			"status": status,
			"amount": amount,
		}
	default:
		return map[string]interface{}{
			"event":       "invoice.paid",
			"external_id": orderID,
			"status":      status,
			"paid_amount": amount,
		}
	}
}
