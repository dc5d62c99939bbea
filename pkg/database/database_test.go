package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"transactions", "devices", "device_commands", "command_log"} {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ` + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, CreateTables(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"command_log", "device_commands", "devices", "transactions"} {
		mock.ExpectExec(`DROP TABLE IF EXISTS ` + table).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range schema {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, ResetTables(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
