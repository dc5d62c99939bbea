package store

import (
	"context"
	"sync"

	"waterstation-gateway/pkg/models"
)

// MemoryStore is a thread-safe map store for tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]models.Order
	devices      map[string]models.DeviceState
	commandLog   map[string]models.DeviceCommand

	// commandWrites counts every PutDeviceCommand, duplicates included.
	commandWrites int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]models.Order),
		devices:      make(map[string]models.DeviceState),
		commandLog:   make(map[string]models.DeviceCommand),
	}
}

func (s *MemoryStore) PutTransaction(_ context.Context, order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.transactions[order.OrderID]; ok && existing.Dispatched {
		return ErrAlreadyDispatched
	}
	order.Dispatched = false
	s.transactions[order.OrderID] = order
	return nil
}

func (s *MemoryStore) PatchTransaction(_ context.Context, orderID string, patch models.OrderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.transactions[orderID]
	if !ok {
		o = models.Order{OrderID: orderID, CreatedAt: patch.UpdatedAt}
	}
	patch.Apply(&o)
	s.transactions[orderID] = o
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.transactions[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) ClaimDispatch(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.transactions[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if o.Dispatched {
		return false, nil
	}
	o.Dispatched = true
	s.transactions[orderID] = o
	return true, nil
}

func (s *MemoryStore) ReleaseDispatch(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.transactions[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Dispatched = false
	s.transactions[orderID] = o
	return nil
}

func (s *MemoryStore) PutDeviceCommand(_ context.Context, deviceID string, cmd models.DeviceCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.devices[deviceID]
	d.DeviceID = deviceID
	d.Command = &cmd
	s.devices[deviceID] = d
	s.commandWrites++
	return nil
}

func (s *MemoryStore) PutCommandLog(_ context.Context, cmd models.DeviceCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandLog[cmd.OrderID] = cmd
	return nil
}

func (s *MemoryStore) GetCommandLog(_ context.Context, orderID string) (*models.DeviceCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commandLog[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cmd, nil
}

func (s *MemoryStore) GetDevice(_ context.Context, deviceID string) (*models.DeviceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Command != nil {
		cmd := *d.Command
		d.Command = &cmd
	}
	return &d, nil
}

func (s *MemoryStore) PatchDevice(_ context.Context, deviceID string, patch models.DevicePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.devices[deviceID]
	d.DeviceID = deviceID
	patch.Apply(&d)
	s.devices[deviceID] = d
	return nil
}

func (s *MemoryStore) UpdateCommandStatus(_ context.Context, deviceID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || d.Command == nil {
		return ErrNotFound
	}
	cmd := *d.Command
	cmd.Status = status
	d.Command = &cmd
	s.devices[deviceID] = d
	return nil
}

// CommandWrites returns how many times the device slot was written.
func (s *MemoryStore) CommandWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commandWrites
}

// TransactionCount returns the number of stored orders.
func (s *MemoryStore) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

func (s *MemoryStore) Close() error { return nil }
