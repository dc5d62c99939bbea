package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/store"
)

// CheckStatus merges the stored order with the device's live state. The
// two reads are independent and run concurrently.
func (s *Service) CheckStatus(ctx context.Context, correlationID, orderID string) (*models.StatusResponse, error) {
	logPrefix := logging.Prefix(correlationID)
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, MissingParameter("orderId")
	}

	var (
		wg        sync.WaitGroup
		order     *models.Order
		missing   bool
		orderRes  callResult
		device    *models.DeviceState
		deviceRes callResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		orderRes = s.call(ctx, logPrefix, "store.get_transaction", required, func(ctx context.Context) error {
			o, err := s.store.GetTransaction(ctx, orderID)
			if errors.Is(err, store.ErrNotFound) {
				missing = true
				return nil
			}
			order = o
			return err
		})
	}()
	go func() {
		defer wg.Done()
		deviceRes = s.call(ctx, logPrefix, "store.get_device", bestEffort, func(ctx context.Context) error {
			d, err := s.store.GetDevice(ctx, s.cfg.DeviceID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			device = d
			return err
		})
	}()
	wg.Wait()

	if !orderRes.ok() {
		return nil, orderRes.err
	}
	if missing || order == nil {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}

	status := order.PaymentStatus
	if status == "" {
		status = models.StatusPending
	}
	resp := &models.StatusResponse{
		Success:    true,
		OrderID:    orderID,
		Status:     status,
		Amount:     order.Amount,
		Volume:     order.Volume,
		Dispatched: order.Dispatched,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
		Timestamp:  s.now().UTC().Format(time.RFC3339),
	}
	if deviceRes.ok() && device != nil {
		resp.Device = device.Summary()
	}
	return resp, nil
}
