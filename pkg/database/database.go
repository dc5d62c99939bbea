package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"waterstation-gateway/pkg/config"

	_ "github.com/go-sql-driver/mysql"
)

func Open(cfg config.DB) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		order_id VARCHAR(255) PRIMARY KEY,
		amount BIGINT NOT NULL DEFAULT 0,
		volume DOUBLE NOT NULL DEFAULT 0,
		payment_status VARCHAR(20) NOT NULL,
		event VARCHAR(100) NOT NULL DEFAULT '',
		invoice_id VARCHAR(255) NOT NULL DEFAULT '',
		invoice_url VARCHAR(1024) NOT NULL DEFAULT '',
		expiry_date VARCHAR(64) NOT NULL DEFAULT '',
		payer_email VARCHAR(255) NOT NULL DEFAULT '',
		description VARCHAR(255) NOT NULL DEFAULT '',
		simulated BOOLEAN NOT NULL DEFAULT FALSE,
		dispatched BOOLEAN NOT NULL DEFAULT FALSE,
		webhook_received BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id VARCHAR(64) PRIMARY KEY,
		current_order VARCHAR(255) NOT NULL DEFAULT '',
		fill_progress DOUBLE NOT NULL DEFAULT 0,
		relay_active BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(32) NOT NULL DEFAULT 'unknown',
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_commands (
		device_id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		volume DOUBLE NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		timestamp BIGINT NOT NULL,
		created_at VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS command_log (
		order_id VARCHAR(255) PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		volume DOUBLE NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		timestamp BIGINT NOT NULL,
		created_at VARCHAR(64) NOT NULL
	)`,
}

func CreateTables(db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func ResetTables(db *sql.DB) error {
	tables := []string{"command_log", "device_commands", "devices", "transactions"}

	for _, table := range tables {
		query := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
		if _, err := db.Exec(query); err != nil {
			slog.Error("Failed to drop table", "table", table, "error", err)
		} else {
			slog.Info("Table dropped", "table", table)
		}
	}

	if err := CreateTables(db); err != nil {
		return fmt.Errorf("failed to recreate tables: %w", err)
	}

	slog.Info("All tables dropped and recreated successfully")
	return nil
}
