package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natspkg "github.com/nats-io/nats.go"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/logging"
	"waterstation-gateway/pkg/models"
	"waterstation-gateway/pkg/nats"
	"waterstation-gateway/pkg/store"
	"waterstation-gateway/pkg/utils"
)

const fillStepPercent = 10.0

type device struct {
	cfg   *config.Config
	store store.Store

	idempotencyCheck bool

	mu      sync.Mutex
	seen    map[string]bool
	filling bool
	current string
	// queue holds commands that arrived during a fill. NATS does not
	// redeliver, so dropping them would lose the order.
	queue []queuedCommand
}

type queuedCommand struct {
	correlationID string
	cmd           models.DeviceCommand
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	_, flush, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer flush()

	st, err := store.Open(cfg)
	if err != nil {
		slog.Error("Failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	d := &device{
		cfg:              cfg,
		store:            st,
		idempotencyCheck: cfg.Device.IdempotencyCheck,
		seen:             make(map[string]bool),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.markIdle(ctx); err != nil {
		slog.Warn("Failed to publish initial device state", "error", err)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			slog.Error("Failed to initialize NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		subject := nats.DeviceCommandSubject(cfg.DeviceID)
		sub, err := nc.Subscribe(subject, func(msg *natspkg.Msg) { d.handleMessage(ctx, msg) })
		if err != nil {
			slog.Error("Failed to subscribe", "subject", subject, "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
	} else {
		slog.Info("NATS_URL not set, polling the command slot")
		go d.poll(ctx)
	}

	http.HandleFunc("/health", healthCheck)
	srv := &http.Server{Addr: cfg.Device.RunAddress, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("Device simulator starting", "device_id", cfg.DeviceID, "address", cfg.Device.RunAddress, "device_idempotency_check", d.idempotencyCheck)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", "error", err)
	}
}

func (d *device) handleMessage(ctx context.Context, msg *natspkg.Msg) {
	var cm models.CommandMessage
	if err := json.Unmarshal(msg.Data, &cm); err != nil {
		slog.Error("Failed to unmarshal command message", "error", err)
		return
	}

	correlationID := cm.CorrelationID
	if correlationID == "" {
		correlationID = utils.GenerateCorrelationID()
	}
	d.accept(ctx, correlationID, cm.Command)
}

// poll watches the command slot when no message bus is configured.
func (d *device) poll(ctx context.Context) {
	ticker := time.NewTicker(2 * d.cfg.Device.Step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := d.store.GetDevice(ctx, d.cfg.DeviceID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("Failed to read device state", "error", err)
			}
			continue
		}
		if state.Command != nil && state.Command.Status == models.CommandPending {
			d.accept(ctx, utils.GenerateCorrelationID(), *state.Command)
		}
	}
}

func (d *device) accept(ctx context.Context, correlationID string, cmd models.DeviceCommand) {
	logPrefix := logging.Prefix(correlationID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == cmd.OrderID || d.queued(cmd.OrderID) {
		return
	}
	if d.idempotencyCheck && d.seen[cmd.OrderID] {
		slog.Info(logPrefix+"Order already filled, ignoring command", "order_id", cmd.OrderID)
		return
	}
	if !d.idempotencyCheck && d.seen[cmd.OrderID] {
		slog.Warn(logPrefix+"Device idempotency check is disabled, filling again", "order_id", cmd.OrderID)
	}
	d.seen[cmd.OrderID] = true

	next := queuedCommand{correlationID: correlationID, cmd: cmd}
	if d.filling {
		d.queue = append(d.queue, next)
		slog.Info(logPrefix+"Device busy, command queued", "order_id", cmd.OrderID, "queued", len(d.queue))
		return
	}
	d.filling = true
	d.current = cmd.OrderID
	go d.run(ctx, next)
}

func (d *device) queued(orderID string) bool {
	for _, q := range d.queue {
		if q.cmd.OrderID == orderID {
			return true
		}
	}
	return false
}

// run fills next and then drains the queue. Only one run is active at a time.
func (d *device) run(ctx context.Context, next queuedCommand) {
	for {
		logPrefix := logging.Prefix(next.correlationID)
		if err := d.fill(ctx, logPrefix, next.cmd); err != nil {
			slog.Error(logPrefix+"Fill aborted", "order_id", next.cmd.OrderID, "error", err)
		}

		d.mu.Lock()
		if len(d.queue) == 0 || ctx.Err() != nil {
			d.filling = false
			d.current = ""
			d.mu.Unlock()
			return
		}
		next = d.queue[0]
		d.queue = d.queue[1:]
		d.current = next.cmd.OrderID
		d.mu.Unlock()
	}
}

func (d *device) fill(ctx context.Context, logPrefix string, cmd models.DeviceCommand) error {
	slog.Info(logPrefix+"Starting fill", "order_id", cmd.OrderID, "volume", cmd.Volume)

	filling := "filling"
	relayOn := true
	progress := 0.0
	if err := d.store.PatchDevice(ctx, d.cfg.DeviceID, models.DevicePatch{
		CurrentOrder: &cmd.OrderID,
		FillProgress: &progress,
		RelayActive:  &relayOn,
		Status:       &filling,
		UpdatedAt:    utils.NowMillis(),
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(d.cfg.Device.Step)
	defer ticker.Stop()
	for progress < 100 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		progress += fillStepPercent
		if progress > 100 {
			progress = 100
		}
		p := progress
		if err := d.store.PatchDevice(ctx, d.cfg.DeviceID, models.DevicePatch{FillProgress: &p, UpdatedAt: utils.NowMillis()}); err != nil {
			slog.Warn(logPrefix+"Failed to report progress", "progress", p, "error", err)
		}
	}

	if d.slotHolds(ctx, cmd.OrderID) {
		if err := d.store.UpdateCommandStatus(ctx, d.cfg.DeviceID, models.CommandCompleted); err != nil {
			slog.Warn(logPrefix+"Failed to mark command completed", "order_id", cmd.OrderID, "error", err)
		}
	}
	if err := d.markIdle(ctx); err != nil {
		return err
	}

	slog.Info(logPrefix+"Fill completed", "order_id", cmd.OrderID, "volume", cmd.Volume)
	return nil
}

// slotHolds reports whether the command slot still carries orderID. A newer
// command may have replaced it while this one was filling.
func (d *device) slotHolds(ctx context.Context, orderID string) bool {
	state, err := d.store.GetDevice(ctx, d.cfg.DeviceID)
	if err != nil || state.Command == nil {
		return false
	}
	return state.Command.OrderID == orderID
}

func (d *device) markIdle(ctx context.Context) error {
	idle := "idle"
	relayOff := false
	return d.store.PatchDevice(ctx, d.cfg.DeviceID, models.DevicePatch{
		RelayActive: &relayOff,
		Status:      &idle,
		UpdatedAt:   utils.NowMillis(),
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
