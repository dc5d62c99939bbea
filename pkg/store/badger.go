package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"waterstation-gateway/pkg/models"
)

// maxConflictRetries bounds how often an optimistic transaction is re-run
// after badger.ErrConflict.
const maxConflictRetries = 5

// BadgerStore is the embedded single-node backend.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLoggingLevel(badger.WARNING)
	return openBadger(opts)
}

// NewInMemoryBadgerStore keeps everything in RAM. Used by tests.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func transactionKey(orderID string) []byte { return []byte("transactions/" + orderID) }
func deviceKey(deviceID string) []byte     { return []byte("devices/" + deviceID) }
func commandLogKey(orderID string) []byte  { return []byte("commands/" + orderID) }

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

// update runs fn in a read-write transaction, re-running it on write conflicts.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerStore) PutTransaction(ctx context.Context, order models.Order) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		var existing models.Order
		err := getJSON(txn, transactionKey(order.OrderID), &existing)
		switch {
		case err == nil && existing.Dispatched:
			return ErrAlreadyDispatched
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		order.Dispatched = false
		return setJSON(txn, transactionKey(order.OrderID), order)
	})
}

func (b *BadgerStore) PatchTransaction(ctx context.Context, orderID string, patch models.OrderPatch) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		var o models.Order
		err := getJSON(txn, transactionKey(orderID), &o)
		if errors.Is(err, ErrNotFound) {
			o = models.Order{OrderID: orderID, CreatedAt: patch.UpdatedAt}
		} else if err != nil {
			return err
		}
		patch.Apply(&o)
		return setJSON(txn, transactionKey(orderID), o)
	})
}

func (b *BadgerStore) GetTransaction(_ context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, transactionKey(orderID), &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ClaimDispatch leans on badger's serializable snapshot isolation: of two
// transactions that both read dispatched=false, the later commit fails with
// ErrConflict and its retry observes true.
func (b *BadgerStore) ClaimDispatch(ctx context.Context, orderID string) (bool, error) {
	var claimed bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		claimed = false
		var o models.Order
		if err := getJSON(txn, transactionKey(orderID), &o); err != nil {
			return err
		}
		if o.Dispatched {
			return nil
		}
		o.Dispatched = true
		if err := setJSON(txn, transactionKey(orderID), o); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (b *BadgerStore) ReleaseDispatch(ctx context.Context, orderID string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		var o models.Order
		if err := getJSON(txn, transactionKey(orderID), &o); err != nil {
			return err
		}
		o.Dispatched = false
		return setJSON(txn, transactionKey(orderID), o)
	})
}

func (b *BadgerStore) modifyDevice(ctx context.Context, deviceID string, fn func(d *models.DeviceState) error) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		var d models.DeviceState
		if err := getJSON(txn, deviceKey(deviceID), &d); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		d.DeviceID = deviceID
		if err := fn(&d); err != nil {
			return err
		}
		return setJSON(txn, deviceKey(deviceID), d)
	})
}

func (b *BadgerStore) PutDeviceCommand(ctx context.Context, deviceID string, cmd models.DeviceCommand) error {
	return b.modifyDevice(ctx, deviceID, func(d *models.DeviceState) error {
		d.Command = &cmd
		return nil
	})
}

func (b *BadgerStore) PutCommandLog(ctx context.Context, cmd models.DeviceCommand) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, commandLogKey(cmd.OrderID), cmd)
	})
}

func (b *BadgerStore) GetCommandLog(_ context.Context, orderID string) (*models.DeviceCommand, error) {
	var cmd models.DeviceCommand
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, commandLogKey(orderID), &cmd)
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (b *BadgerStore) GetDevice(_ context.Context, deviceID string) (*models.DeviceState, error) {
	var d models.DeviceState
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, deviceKey(deviceID), &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (b *BadgerStore) PatchDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	return b.modifyDevice(ctx, deviceID, func(d *models.DeviceState) error {
		patch.Apply(d)
		return nil
	})
}

func (b *BadgerStore) UpdateCommandStatus(ctx context.Context, deviceID string, status string) error {
	return b.modifyDevice(ctx, deviceID, func(d *models.DeviceState) error {
		if d.Command == nil {
			return ErrNotFound
		}
		d.Command.Status = status
		return nil
	})
}
