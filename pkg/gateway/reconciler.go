package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/metrics"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/nats"
	"waterstation-gateway/pkg/store"
	"waterstation-gateway/pkg/webhook"
)

// Webhook outcome labels.
const (
	webhookUnauthorized = "unauthorized"
	webhookIgnored      = "ignored"
	webhookProcessed    = "processed"
	webhookFailed       = "failed"
)

const (
	noteNoOrderID      = "Webhook received but no orderId to process"
	noteErrorLogged    = "Error logged but provider notified of receipt"
	messageProcessed   = "Webhook processed successfully"
	messageDuplicate   = "Duplicate notification, command already dispatched"
	messageOrderAbsent = "Order not found, status recorded without dispatch"
)

// Authenticate compares the callback token in constant time. An unset
// secret rejects every request.
func (s *Service) Authenticate(token string) error {
	secret := s.cfg.WebhookToken
	if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return &UnauthorizedError{}
	}
	return nil
}

// HandleWebhook authenticates and reconciles one provider notification. The
// only error it returns is UnauthorizedError; every other failure is encoded
// in the response so the provider does not retry.
func (s *Service) HandleWebhook(ctx context.Context, correlationID, token string, body []byte) (resp *models.WebhookResponse, err error) {
	logPrefix := logging.Prefix(correlationID)
	if err := s.Authenticate(token); err != nil {
		s.metrics.Webhooks.WithLabelValues(webhookUnauthorized).Inc()
		s.logger.Warn(logPrefix + "Invalid webhook token")
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(logPrefix+"Webhook processing panicked", "panic", r)
			s.metrics.Webhooks.WithLabelValues(webhookFailed).Inc()
			resp, err = s.failure(fmt.Errorf("internal error: %v", r)), nil
		}
	}()

	n, ok := webhook.Normalize(body)
	if !ok {
		event := webhook.EventName(body)
		s.logger.Info(logPrefix+"No orderId found for event", "event", event)
		s.metrics.Webhooks.WithLabelValues(webhookIgnored).Inc()
		return &models.WebhookResponse{
			Success:     true,
			Received:    true,
			Event:       event,
			Note:        noteNoOrderID,
			ProcessedAt: s.timestamp(),
		}, nil
	}

	s.logger.Info(logPrefix+"Processing webhook", "order_id", n.OrderID, "status", n.Status, "event", n.Event, "strategy", n.Strategy)

	resp, err = s.reconcile(ctx, correlationID, n)
	if err != nil {
		s.metrics.Webhooks.WithLabelValues(webhookFailed).Inc()
		return s.failure(err), nil
	}
	s.metrics.Webhooks.WithLabelValues(webhookProcessed).Inc()
	return resp, nil
}

func (s *Service) reconcile(ctx context.Context, correlationID string, n webhook.Notification) (*models.WebhookResponse, error) {
	logPrefix := logging.Prefix(correlationID)
	received := true
	patch := models.OrderPatch{
		PaymentStatus:   &n.Status,
		Event:           &n.Event,
		WebhookReceived: &received,
		UpdatedAt:       s.nowMillis(),
	}
	if n.Amount > 0 {
		patch.Amount = &n.Amount
	}
	if res := s.call(ctx, logPrefix, "store.patch_transaction", required, func(ctx context.Context) error {
		return s.store.PatchTransaction(ctx, n.OrderID, patch)
	}); !res.ok() {
		return nil, res.err
	}

	s.publish(logPrefix, nats.SubjectPaymentStatus, models.PaymentStatusMessage{
		OrderID:       n.OrderID,
		Status:        n.Status,
		Amount:        n.Amount,
		Event:         n.Event,
		ReceivedAt:    s.now().UTC(),
		CorrelationID: correlationID,
	})

	resp := &models.WebhookResponse{
		Success:     true,
		Message:     messageProcessed,
		OrderID:     n.OrderID,
		Status:      n.Status,
		Event:       n.Event,
		ProcessedAt: s.timestamp(),
	}

	switch {
	case n.Status.IsSuccess():
		return s.dispatch(ctx, correlationID, n, resp)
	case n.Status.IsTerminalFailure():
		s.logger.Warn(logPrefix+"Payment did not complete", "order_id", n.OrderID, "status", n.Status)
	default:
		s.logger.Info(logPrefix+"Status recorded", "order_id", n.OrderID, "status", n.Status)
	}
	return resp, nil
}

// dispatch issues the fill command for a paid order. Only the caller that
// wins ClaimDispatch writes the command slot.
func (s *Service) dispatch(ctx context.Context, correlationID string, n webhook.Notification, resp *models.WebhookResponse) (*models.WebhookResponse, error) {
	logPrefix := logging.Prefix(correlationID)
	var order *models.Order
	if res := s.call(ctx, logPrefix, "store.get_transaction", required, func(ctx context.Context) error {
		o, err := s.store.GetTransaction(ctx, n.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		order = o
		return err
	}); !res.ok() {
		return nil, res.err
	}
	if order == nil {
		s.logger.Warn(logPrefix+"Order vanished before dispatch", "order_id", n.OrderID)
		resp.Message = messageOrderAbsent
		return resp, nil
	}
	if order.Dispatched {
		return s.duplicate(logPrefix, n.OrderID, resp), nil
	}

	var claimed bool
	if res := s.call(ctx, logPrefix, "store.claim_dispatch", required, func(ctx context.Context) error {
		var err error
		claimed, err = s.store.ClaimDispatch(ctx, n.OrderID)
		return err
	}); !res.ok() {
		s.metrics.Dispatch.WithLabelValues(metrics.DispatchFailed).Inc()
		return nil, res.err
	}
	if !claimed {
		return s.duplicate(logPrefix, n.OrderID, resp), nil
	}

	cmd := s.buildCommand(*order, n)
	if res := s.call(ctx, logPrefix, "store.put_device_command", required, func(ctx context.Context) error {
		return s.store.PutDeviceCommand(ctx, cmd.DeviceID, cmd)
	}); !res.ok() {
		// A failed or timed-out write may still have reached the slot, so the
		// claim stays. The audit copy tells an operator what to check before
		// releasing it.
		s.logger.Error(logPrefix+"Command slot write unconfirmed, claim kept", "order_id", n.OrderID, "device_id", cmd.DeviceID)
		unconfirmed := cmd
		unconfirmed.Status = models.CommandUnconfirmed
		s.call(ctx, logPrefix, "store.put_command_log", bestEffort, func(ctx context.Context) error {
			return s.store.PutCommandLog(ctx, unconfirmed)
		})
		s.metrics.Dispatch.WithLabelValues(metrics.DispatchFailed).Inc()
		return nil, res.err
	}
	s.logger.Info(logPrefix+"Command sent to device", "order_id", n.OrderID, "device_id", cmd.DeviceID, "volume", cmd.Volume)

	s.call(ctx, logPrefix, "store.put_command_log", bestEffort, func(ctx context.Context) error {
		return s.store.PutCommandLog(ctx, cmd)
	})
	s.publish(logPrefix, nats.DeviceCommandSubject(cmd.DeviceID), models.CommandMessage{
		Command:       cmd,
		CorrelationID: correlationID,
	})

	s.metrics.Dispatch.WithLabelValues(metrics.DispatchSent).Inc()
	resp.Dispatched = true
	return resp, nil
}

func (s *Service) duplicate(logPrefix, orderID string, resp *models.WebhookResponse) *models.WebhookResponse {
	s.logger.Info(logPrefix+"Order already dispatched, skipping command", "order_id", orderID)
	s.metrics.Dispatch.WithLabelValues(metrics.DispatchDuplicate).Inc()
	resp.Duplicate = true
	resp.Message = messageDuplicate
	return resp
}

func (s *Service) buildCommand(order models.Order, n webhook.Notification) models.DeviceCommand {
	volume := order.Volume
	if volume <= 0 {
		volume = s.cfg.DefaultVolume
	}
	amount := order.Amount
	if amount <= 0 {
		amount = n.Amount
	}
	now := s.now()
	return models.DeviceCommand{
		OrderID:   n.OrderID,
		Type:      models.CommandTypeFill,
		Volume:    volume,
		Amount:    amount,
		Timestamp: now.UnixMilli(),
		DeviceID:  s.cfg.DeviceID,
		Status:    models.CommandPending,
		CreatedAt: now.UTC().Format(time.RFC3339),

		CurrentOrder: n.OrderID,
		FillProgress: 0,
		RelayActive:  false,
	}
}

func (s *Service) publish(logPrefix, subject string, v interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishJSON(subject, v); err != nil {
		s.metrics.UpstreamFailures.WithLabelValues("nats.publish").Inc()
		s.logger.Warn(logPrefix+"Failed to publish event", "subject", subject, "error", err)
	}
}

func (s *Service) failure(err error) *models.WebhookResponse {
	return &models.WebhookResponse{
		Success:     false,
		Error:       err.Error(),
		Note:        noteErrorLogged,
		ProcessedAt: s.timestamp(),
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
