package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterstation-gateway/pkg/models"
)

func ptr[T any](v T) *T { return &v }

// runStoreSuite exercises the behaviour every backend is expected to share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("GetMissingTransaction", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetTransaction(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutPatchGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutTransaction(ctx, models.Order{
			OrderID:       "ORD-1",
			Amount:        5000,
			Volume:        500,
			PaymentStatus: models.StatusPending,
			CreatedAt:     100,
			UpdatedAt:     100,
		}))

		require.NoError(t, s.PatchTransaction(ctx, "ORD-1", models.OrderPatch{
			PaymentStatus:   ptr(models.StatusPaid),
			WebhookReceived: ptr(true),
			Event:           ptr("invoice.paid"),
			UpdatedAt:       200,
		}))

		o, err := s.GetTransaction(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", o.OrderID)
		assert.Equal(t, models.StatusPaid, o.PaymentStatus)
		assert.Equal(t, int64(5000), o.Amount)
		assert.Equal(t, 500.0, o.Volume)
		assert.True(t, o.WebhookReceived)
		assert.Equal(t, "invoice.paid", o.Event)
		assert.Equal(t, int64(100), o.CreatedAt)
		assert.Equal(t, int64(200), o.UpdatedAt)
		assert.False(t, o.Dispatched)
	})

	t.Run("PatchCreatesMissing", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PatchTransaction(ctx, "ORD-2", models.OrderPatch{
			PaymentStatus: ptr(models.StatusExpired),
			UpdatedAt:     300,
		}))
		o, err := s.GetTransaction(ctx, "ORD-2")
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, o.PaymentStatus)
	})

	t.Run("ClaimDispatchOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutTransaction(ctx, models.Order{OrderID: "ORD-3", PaymentStatus: models.StatusPending}))

		claimed, err := s.ClaimDispatch(ctx, "ORD-3")
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = s.ClaimDispatch(ctx, "ORD-3")
		require.NoError(t, err)
		assert.False(t, claimed)

		o, err := s.GetTransaction(ctx, "ORD-3")
		require.NoError(t, err)
		assert.True(t, o.Dispatched)

		require.NoError(t, s.ReleaseDispatch(ctx, "ORD-3"))
		claimed, err = s.ClaimDispatch(ctx, "ORD-3")
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("PutNeverResetsDispatchedOrder", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutTransaction(ctx, models.Order{OrderID: "ORD-8", Amount: 5000, PaymentStatus: models.StatusPending}))
		require.NoError(t, s.PatchTransaction(ctx, "ORD-8", models.OrderPatch{PaymentStatus: ptr(models.StatusPaid), UpdatedAt: 10}))
		claimed, err := s.ClaimDispatch(ctx, "ORD-8")
		require.NoError(t, err)
		require.True(t, claimed)

		err = s.PutTransaction(ctx, models.Order{OrderID: "ORD-8", Amount: 1, PaymentStatus: models.StatusPending})
		require.ErrorIs(t, err, ErrAlreadyDispatched)

		o, err := s.GetTransaction(ctx, "ORD-8")
		require.NoError(t, err)
		assert.True(t, o.Dispatched)
		assert.Equal(t, models.StatusPaid, o.PaymentStatus)
		assert.Equal(t, int64(5000), o.Amount)

		claimed, err = s.ClaimDispatch(ctx, "ORD-8")
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("PutIgnoresCallerDispatchedFlag", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutTransaction(ctx, models.Order{OrderID: "ORD-10", Dispatched: true}))
		claimed, err := s.ClaimDispatch(ctx, "ORD-10")
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("ConcurrentClaimsHaveOneWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutTransaction(ctx, models.Order{OrderID: "ORD-4", PaymentStatus: models.StatusPending}))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := s.ClaimDispatch(ctx, "ORD-4")
				if err != nil {
					t.Errorf("claim err: %v", err)
					return
				}
				if claimed {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("DeviceCommandAndState", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetDevice(ctx, "WS-001")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.PatchDevice(ctx, "WS-001", models.DevicePatch{
			Status:    ptr("idle"),
			UpdatedAt: 10,
		}))

		cmd := models.DeviceCommand{
			OrderID:   "ORD-5",
			Type:      models.CommandTypeFill,
			Volume:    500,
			Amount:    5000,
			Timestamp: 20,
			DeviceID:  "WS-001",
			Status:    models.CommandPending,
			CreatedAt: "2026-01-01T00:00:00Z",
		}
		require.NoError(t, s.PutDeviceCommand(ctx, "WS-001", cmd))
		require.NoError(t, s.PutCommandLog(ctx, cmd))

		require.NoError(t, s.PatchDevice(ctx, "WS-001", models.DevicePatch{
			CurrentOrder: ptr("ORD-5"),
			FillProgress: ptr(40.0),
			RelayActive:  ptr(true),
			Status:       ptr("filling"),
			UpdatedAt:    30,
		}))
		require.NoError(t, s.UpdateCommandStatus(ctx, "WS-001", models.CommandCompleted))

		d, err := s.GetDevice(ctx, "WS-001")
		require.NoError(t, err)
		assert.Equal(t, "ORD-5", d.CurrentOrder)
		assert.Equal(t, 40.0, d.FillProgress)
		assert.True(t, d.RelayActive)
		assert.Equal(t, "filling", d.Status)
		require.NotNil(t, d.Command)
		assert.Equal(t, "ORD-5", d.Command.OrderID)
		assert.Equal(t, models.CommandCompleted, d.Command.Status)

		logged, err := s.GetCommandLog(ctx, "ORD-5")
		require.NoError(t, err)
		assert.Equal(t, models.CommandPending, logged.Status)
		assert.Equal(t, 500.0, logged.Volume)

		_, err = s.GetCommandLog(ctx, "ORD-6")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestBadgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewInMemoryBadgerStore()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.PutTransaction(ctx, models.Order{OrderID: "ORD-9", Amount: 10, PaymentStatus: models.StatusPending}))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	o, err := s.GetTransaction(ctx, "ORD-9")
	require.NoError(t, err)
	assert.Equal(t, int64(10), o.Amount)
}

func TestMemoryStore_CommandWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.PutDeviceCommand(ctx, "WS-001", models.DeviceCommand{OrderID: "A"}))
	require.NoError(t, s.PutDeviceCommand(ctx, "WS-001", models.DeviceCommand{OrderID: "B"}))
	assert.Equal(t, 2, s.CommandWrites())
	assert.ErrorIs(t, s.UpdateCommandStatus(ctx, "WS-002", models.CommandCompleted), ErrNotFound)
}
