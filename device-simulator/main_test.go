package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/store"
)

func newTestDevice(t *testing.T, idempotencyCheck bool) (*device, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := &config.Config{
		DeviceID: "WS-001",
		Device:   config.Device{Step: time.Millisecond, IdempotencyCheck: idempotencyCheck},
	}
	return &device{
		cfg:              cfg,
		store:            st,
		idempotencyCheck: idempotencyCheck,
		seen:             make(map[string]bool),
	}, st
}

func pendingCommand(orderID string) models.DeviceCommand {
	return models.DeviceCommand{
		OrderID:  orderID,
		Type:     models.CommandTypeFill,
		Volume:   250,
		Amount:   5000,
		DeviceID: "WS-001",
		Status:   models.CommandPending,
	}
}

func commandStatus(t *testing.T, st store.Store) string {
	t.Helper()
	state, err := st.GetDevice(context.Background(), "WS-001")
	require.NoError(t, err)
	require.NotNil(t, state.Command)
	return state.Command.Status
}

func waitIdle(t *testing.T, d *device) {
	t.Helper()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return !d.filling
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDevice_Fill(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDevice(t, true)
	cmd := pendingCommand("ORD-1")
	require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", cmd))

	d.accept(ctx, "CORR", cmd)
	waitIdle(t, d)

	state, err := st.GetDevice(ctx, "WS-001")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", state.CurrentOrder)
	assert.Equal(t, 100.0, state.FillProgress)
	assert.False(t, state.RelayActive)
	assert.Equal(t, "idle", state.Status)
	assert.Equal(t, models.CommandCompleted, state.Command.Status)
}

func TestDevice_IdempotencyCheck(t *testing.T) {
	tests := []struct {
		name             string
		idempotencyCheck bool
		want             string
	}{
		{"enabled ignores repeat", true, models.CommandPending},
		{"disabled fills again", false, models.CommandCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d, st := newTestDevice(t, tt.idempotencyCheck)
			cmd := pendingCommand("ORD-2")

			require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", cmd))
			d.accept(ctx, "CORR", cmd)
			waitIdle(t, d)
			require.Equal(t, models.CommandCompleted, commandStatus(t, st))

			require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", cmd))
			d.accept(ctx, "CORR", cmd)
			time.Sleep(20 * time.Millisecond)
			waitIdle(t, d)

			assert.Equal(t, tt.want, commandStatus(t, st))
		})
	}
}

func TestDevice_BusyQueuesCommand(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDevice(t, true)
	d.cfg.Device.Step = 5 * time.Millisecond

	first := pendingCommand("ORD-3")
	require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", first))
	d.accept(ctx, "CORR-1", first)

	// The gateway replaces the slot while ORD-3 is still filling.
	second := pendingCommand("ORD-5")
	require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", second))
	d.accept(ctx, "CORR-2", second)
	d.accept(ctx, "CORR-2", second)

	d.mu.Lock()
	require.True(t, d.filling)
	require.Len(t, d.queue, 1)
	d.mu.Unlock()

	waitIdle(t, d)

	state, err := st.GetDevice(ctx, "WS-001")
	require.NoError(t, err)
	assert.Equal(t, "ORD-5", state.CurrentOrder)
	assert.Equal(t, 100.0, state.FillProgress)
	assert.Equal(t, "idle", state.Status)
	require.NotNil(t, state.Command)
	assert.Equal(t, "ORD-5", state.Command.OrderID)
	assert.Equal(t, models.CommandCompleted, state.Command.Status)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.queue)
	assert.True(t, d.seen["ORD-3"])
	assert.True(t, d.seen["ORD-5"])
}

func TestDevice_FillLeavesNewerSlotPending(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDevice(t, true)
	require.NoError(t, st.PutDeviceCommand(ctx, "WS-001", pendingCommand("ORD-6")))

	require.NoError(t, d.fill(ctx, "", pendingCommand("ORD-3")))

	assert.Equal(t, models.CommandPending, commandStatus(t, st))
}

func TestDevice_FillStopsOnCancel(t *testing.T) {
	d, st := newTestDevice(t, true)
	d.cfg.Device.Step = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.fill(ctx, "", pendingCommand("ORD-4"))
	require.ErrorIs(t, err, context.Canceled)

	state, err := st.GetDevice(context.Background(), "WS-001")
	require.NoError(t, err)
	assert.Equal(t, "filling", state.Status)
	assert.True(t, state.RelayActive)
}
