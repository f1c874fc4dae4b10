package db

import (
	"errors"
	"testing"

	"wallet-ledger/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{"users", "transactions", "balance_history"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table + " ").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, RunMigrations(database, zerolog.Nop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_StopsOnError(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("access denied"))

	err = RunMigrations(database, zerolog.Nop())
	assert.ErrorContains(t, err, "access denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitDB_RejectsBadDSN(t *testing.T) {
	_, err := InitDB(config.StoreConfig{DSN: "not a dsn"}, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid DB_URL")
}
