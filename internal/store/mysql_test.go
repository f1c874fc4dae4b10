package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"wallet-ledger/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(db), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "email", "phone_number", "balance", "created_at", "updated_at"})
}

func TestMySQLStore_LockUsersOrdersAndLocks(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+userColumns+" FROM users WHERE id IN (?, ?) ORDER BY id FOR UPDATE")).
		WithArgs(int64(2), int64(5)).
		WillReturnRows(userRows().
			AddRow(2, "alice", "alice@example.com", "+905551112233", "100.00", now, now).
			AddRow(5, "bob", "bob@example.com", nil, "0.00", now, now))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		users, err := tx.LockUsers(context.Background(), 5, 2, 5)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "100", users[2].Balance.String())
		assert.Empty(t, users[5].PhoneNumber)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_TransferWritesInOneCommit(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(int64(1), "TRANSFER_OUT", "70", nil, int64(2), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(int64(2), "TRANSFER_IN", "70", nil, int64(1), int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions SET reference_transaction_id = ? WHERE id = ?")).
		WithArgs(int64(11), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET balance = ?, updated_at = ? WHERE id = ?")).
		WithArgs("50", sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx Tx) error {
		recipient, sender := int64(2), int64(1)
		out := &models.Transaction{UserID: 1, Type: models.TransactionTypeTransferOut, Amount: decimal.NewFromInt(70), RecipientUserID: &recipient}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		in := &models.Transaction{UserID: 2, Type: models.TransactionTypeTransferIn, Amount: decimal.NewFromInt(70), RecipientUserID: &sender, ReferenceTransactionID: &out.ID}
		if err := tx.InsertTransaction(ctx, in); err != nil {
			return err
		}
		assert.Equal(t, int64(10), out.ID)
		assert.Equal(t, int64(11), in.ID)
		if err := tx.SetReference(ctx, out.ID, in.ID); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, 1, decimal.NewFromInt(50))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_WithTxRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_DeadlockIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnError(&mysql.MySQLError{Number: mysqlErrDeadlock, Message: "Deadlock found"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockUsers(context.Background(), 1)
		return err
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CreateUserDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&mysql.MySQLError{Number: mysqlErrDuplicateEntry, Message: "Duplicate entry"})

	err := s.CreateUser(context.Background(), &models.User{Username: "alice", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMySQLStore_UpdateUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET username = ?, phone_number = ?, updated_at = ? WHERE id = ?")).
		WithArgs("alice", "+905551112233", sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateUser(context.Background(), &models.User{ID: 9, Username: "alice", PhoneNumber: "+905551112233"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLStore_GetTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	columns := []string{"id", "user_id", "transaction_type", "amount", "description", "recipient_user_id", "reference_transaction_id", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + transactionColumns + " FROM transactions WHERE id = ?")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(10, 1, "TRANSFER_OUT", "70.00", "rent", 2, 11, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + transactionColumns + " FROM transactions WHERE id = ?")).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows(columns))

	tr, err := s.GetTransaction(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeTransferOut, tr.Type)
	assert.Equal(t, "rent", *tr.Description)
	assert.Equal(t, int64(2), *tr.RecipientUserID)
	assert.Equal(t, int64(11), *tr.ReferenceTransactionID)

	_, err = s.GetTransaction(context.Background(), 12)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_GetTransactionRejectsUnknownType(t *testing.T) {
	s, mock := newMockStore(t)
	columns := []string{"id", "user_id", "transaction_type", "amount", "description", "recipient_user_id", "reference_transaction_id", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + transactionColumns + " FROM transactions WHERE id = ?")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(10, 1, "REFUND", "70.00", nil, nil, nil, time.Now()))

	_, err := s.GetTransaction(context.Background(), 10)
	assert.ErrorContains(t, err, `unknown type "REFUND"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_SumTransactionsInsideTxUsesItsConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	s := NewMySQLStore(db)
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnRows(userRows().AddRow(1, "alice", "alice@example.com", nil, "30.00", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("30.00"))
	mock.ExpectCommit()

	err = s.WithTx(ctx, func(tx Tx) error {
		users, err := tx.LockUsers(ctx, 1)
		if err != nil {
			return err
		}
		sum, err := tx.SumTransactions(ctx, 1)
		if err != nil {
			return err
		}
		assert.True(t, sum.Equal(users[1].Balance))
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_BalanceAtWithoutHistory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT balance FROM balance_history").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	balance, err := s.BalanceAt(context.Background(), 1, time.Now())
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &mysql.MySQLError{Number: mysqlErrDeadlock}, ErrConflict},
		{"lock wait timeout", &mysql.MySQLError{Number: mysqlErrLockWaitTimeout}, ErrConflict},
		{"duplicate entry", &mysql.MySQLError{Number: mysqlErrDuplicateEntry}, ErrDuplicate},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	other := errors.New("connection refused")
	assert.Equal(t, other, classify(other))
	assert.NoError(t, classify(nil))
}
