package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"waterstation-gateway/pkg/models"
)

// MySQLStore keeps the same documents in the tables created by database.CreateTables.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const transactionColumns = `order_id, amount, volume, payment_status, event, invoice_id, invoice_url, expiry_date,
	payer_email, description, simulated, dispatched, webhook_received, created_at, updated_at`

// PutTransaction locks the row with SELECT ... FOR UPDATE, so a concurrent
// ClaimDispatch waits for it. The dispatched column is never in the update list.
func (s *MySQLStore) PutTransaction(ctx context.Context, o models.Order) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var dispatched bool
	err = tx.QueryRowContext(ctx, `SELECT dispatched FROM transactions WHERE order_id = ? FOR UPDATE`, o.OrderID).Scan(&dispatched)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to lock transaction: %w", err)
	case dispatched:
		return ErrAlreadyDispatched
	}

	u := &upsert{table: "transactions"}
	u.insertOnly("order_id", o.OrderID)
	u.set("amount", o.Amount)
	u.set("volume", o.Volume)
	u.set("payment_status", o.PaymentStatus)
	u.set("event", o.Event)
	u.set("invoice_id", o.InvoiceID)
	u.set("invoice_url", o.InvoiceURL)
	u.set("expiry_date", o.ExpiryDate)
	u.set("payer_email", o.PayerEmail)
	u.set("description", o.Description)
	u.set("simulated", o.Simulated)
	u.insertOnly("dispatched", false)
	u.set("webhook_received", o.WebhookReceived)
	u.set("created_at", o.CreatedAt)
	u.set("updated_at", o.UpdatedAt)

	if _, err = tx.ExecContext(ctx, u.sql(), u.args...); err != nil {
		return fmt.Errorf("failed to put transaction: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// upsert is an INSERT ... ON DUPLICATE KEY UPDATE builder. Columns added
// with set are written on both paths, insertOnly columns only on insert.
type upsert struct {
	table   string
	cols    []string
	args    []interface{}
	updates []string
}

func (u *upsert) set(col string, v interface{}) {
	u.cols = append(u.cols, col)
	u.args = append(u.args, v)
	u.updates = append(u.updates, col+" = VALUES("+col+")")
}

func (u *upsert) insertOnly(col string, v interface{}) {
	u.cols = append(u.cols, col)
	u.args = append(u.args, v)
}

func (u *upsert) sql() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(u.cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		u.table, strings.Join(u.cols, ", "), placeholders, strings.Join(u.updates, ", "))
}

func (s *MySQLStore) PatchTransaction(ctx context.Context, orderID string, p models.OrderPatch) error {
	u := &upsert{table: "transactions"}
	u.insertOnly("order_id", orderID)
	if p.PaymentStatus != nil {
		u.set("payment_status", *p.PaymentStatus)
	} else {
		u.insertOnly("payment_status", models.StatusPending)
	}
	if p.Event != nil {
		u.set("event", *p.Event)
	}
	if p.Amount != nil {
		u.set("amount", *p.Amount)
	}
	if p.InvoiceID != nil {
		u.set("invoice_id", *p.InvoiceID)
	}
	if p.InvoiceURL != nil {
		u.set("invoice_url", *p.InvoiceURL)
	}
	if p.ExpiryDate != nil {
		u.set("expiry_date", *p.ExpiryDate)
	}
	if p.Simulated != nil {
		u.set("simulated", *p.Simulated)
	}
	if p.WebhookReceived != nil {
		u.set("webhook_received", *p.WebhookReceived)
	}
	u.insertOnly("created_at", p.UpdatedAt)
	u.set("updated_at", p.UpdatedAt)

	if _, err := s.db.ExecContext(ctx, u.sql(), u.args...); err != nil {
		return fmt.Errorf("failed to patch transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetTransaction(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = ?`
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.OrderID, &o.Amount, &o.Volume, &o.PaymentStatus, &o.Event, &o.InvoiceID, &o.InvoiceURL, &o.ExpiryDate,
		&o.PayerEmail, &o.Description, &o.Simulated, &o.Dispatched, &o.WebhookReceived, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &o, nil
}

// ClaimDispatch relies on the row lock taken by UPDATE: only one concurrent
// statement can observe dispatched = FALSE.
func (s *MySQLStore) ClaimDispatch(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET dispatched = TRUE WHERE order_id = ? AND dispatched = FALSE`, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to claim dispatch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim dispatch: %w", err)
	}
	return n == 1, nil
}

func (s *MySQLStore) ReleaseDispatch(ctx context.Context, orderID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE transactions SET dispatched = FALSE WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("failed to release dispatch: %w", err)
	}
	return nil
}

const commandColumns = `order_id, device_id, type, volume, amount, status, timestamp, created_at`

func (s *MySQLStore) PutDeviceCommand(ctx context.Context, deviceID string, c models.DeviceCommand) error {
	query := `INSERT INTO device_commands (` + commandColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE order_id = VALUES(order_id), type = VALUES(type), volume = VALUES(volume),
		amount = VALUES(amount), status = VALUES(status), timestamp = VALUES(timestamp), created_at = VALUES(created_at)`
	if _, err := s.db.ExecContext(ctx, query, c.OrderID, deviceID, c.Type, c.Volume, c.Amount, c.Status, c.Timestamp, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to put device command: %w", err)
	}
	return nil
}

// PutCommandLog keeps the first copy written for an order unless that copy is
// unconfirmed. Assignments run left to right, so status is replaced last.
func (s *MySQLStore) PutCommandLog(ctx context.Context, c models.DeviceCommand) error {
	query := `INSERT INTO command_log (` + commandColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		device_id = IF(status = 'unconfirmed', VALUES(device_id), device_id),
		type = IF(status = 'unconfirmed', VALUES(type), type),
		volume = IF(status = 'unconfirmed', VALUES(volume), volume),
		amount = IF(status = 'unconfirmed', VALUES(amount), amount),
		timestamp = IF(status = 'unconfirmed', VALUES(timestamp), timestamp),
		created_at = IF(status = 'unconfirmed', VALUES(created_at), created_at),
		status = IF(status = 'unconfirmed', VALUES(status), status)`
	if _, err := s.db.ExecContext(ctx, query, c.OrderID, c.DeviceID, c.Type, c.Volume, c.Amount, c.Status, c.Timestamp, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to put command log: %w", err)
	}
	return nil
}

func scanCommand(row *sql.Row) (*models.DeviceCommand, error) {
	var c models.DeviceCommand
	err := row.Scan(&c.OrderID, &c.DeviceID, &c.Type, &c.Volume, &c.Amount, &c.Status, &c.Timestamp, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CurrentOrder = c.OrderID
	return &c, nil
}

func (s *MySQLStore) GetCommandLog(ctx context.Context, orderID string) (*models.DeviceCommand, error) {
	c, err := scanCommand(s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM command_log WHERE order_id = ?`, orderID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get command log: %w", err)
	}
	return c, err
}

func (s *MySQLStore) GetDevice(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	d := models.DeviceState{DeviceID: deviceID}
	err := s.db.QueryRowContext(ctx,
		`SELECT current_order, fill_progress, relay_active, status, updated_at FROM devices WHERE device_id = ?`, deviceID).
		Scan(&d.CurrentOrder, &d.FillProgress, &d.RelayActive, &d.Status, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	cmd, err := scanCommand(s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM device_commands WHERE device_id = ?`, deviceID))
	switch {
	case err == nil:
		d.Command = cmd
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to get device command: %w", err)
	}
	return &d, nil
}

func (s *MySQLStore) PatchDevice(ctx context.Context, deviceID string, p models.DevicePatch) error {
	u := &upsert{table: "devices"}
	u.insertOnly("device_id", deviceID)
	if p.CurrentOrder != nil {
		u.set("current_order", *p.CurrentOrder)
	}
	if p.FillProgress != nil {
		u.set("fill_progress", *p.FillProgress)
	}
	if p.RelayActive != nil {
		u.set("relay_active", *p.RelayActive)
	}
	if p.Status != nil {
		u.set("status", *p.Status)
	}
	u.set("updated_at", p.UpdatedAt)

	if _, err := s.db.ExecContext(ctx, u.sql(), u.args...); err != nil {
		return fmt.Errorf("failed to patch device: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdateCommandStatus(ctx context.Context, deviceID string, status string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE device_commands SET status = ? WHERE device_id = ?`, status, deviceID); err != nil {
		return fmt.Errorf("failed to update command status: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
