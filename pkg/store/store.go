// Package store is the gateway's only shared mutable state: order records,
// the device command slot, the per-order command audit log and device state.
package store

import (
	"context"
	"errors"

	"waterstation-gateway/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// ErrAlreadyDispatched is returned by PutTransaction when the stored order
// has already had its command issued. Nothing is written in that case.
var ErrAlreadyDispatched = errors.New("order already dispatched")

// TransactionStore persists Orders keyed by orderId.
type TransactionStore interface {
	// PutTransaction creates or replaces the record. The check of the stored
	// dispatched flag and the write are one atomic step, so a claimed order
	// is never reset.
	PutTransaction(ctx context.Context, order models.Order) error
	// PatchTransaction merges the patch, creating the record if it is absent.
	PatchTransaction(ctx context.Context, orderID string, patch models.OrderPatch) error
	GetTransaction(ctx context.Context, orderID string) (*models.Order, error)

	// ClaimDispatch atomically flips dispatched from false to true. It
	// returns true only for the single caller that performed the flip.
	ClaimDispatch(ctx context.Context, orderID string) (bool, error)
	// ReleaseDispatch resets dispatched. Only an operator calls it, after
	// checking that the device slot does not hold the order.
	ReleaseDispatch(ctx context.Context, orderID string) error
}

// DeviceStore holds the device command slot, the audit log and device state.
type DeviceStore interface {
	PutDeviceCommand(ctx context.Context, deviceID string, cmd models.DeviceCommand) error
	PutCommandLog(ctx context.Context, cmd models.DeviceCommand) error
	GetCommandLog(ctx context.Context, orderID string) (*models.DeviceCommand, error)
	GetDevice(ctx context.Context, deviceID string) (*models.DeviceState, error)
	PatchDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error
	// UpdateCommandStatus is the device's acknowledgement of the slot.
	UpdateCommandStatus(ctx context.Context, deviceID string, status string) error
}

type Store interface {
	TransactionStore
	DeviceStore
	Close() error
}
