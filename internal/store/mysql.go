package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

const (
	userColumns        = "id, username, email, phone_number, balance, created_at, updated_at"
	transactionColumns = "id, user_id, transaction_type, amount, description, recipient_user_id, reference_transaction_id, created_at"
)

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("failed to start transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&mysqlTx{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *MySQLStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, phone_number, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.Username, u.Email, u.PhoneNumber, u.Balance, now, now,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to create user: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}

	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *MySQLStore) UpdateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET username = ?, phone_number = ?, updated_at = ? WHERE id = ?",
		u.Username, u.PhoneNumber, now, u.ID,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to update user: %w", err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	u.UpdatedAt = now
	return nil
}

func (s *MySQLStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("database error: %w", err))
	}
	return user, nil
}

func (s *MySQLStore) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}
	defer rows.Close()

	users := make([]*models.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	return users, total, nil
}

func (s *MySQLStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	transaction, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(fmt.Errorf("database error: %w", err))
	}
	return transaction, nil
}

func (s *MySQLStore) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE user_id = ?", userID).Scan(&total)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}
	defer rows.Close()

	transactions := make([]*models.Transaction, 0, limit)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning transaction: %w", err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	return transactions, total, nil
}

func (s *MySQLStore) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return sumTransactions(s.db.QueryRowContext(ctx, sumTransactionsQuery, userID))
}

const sumTransactionsQuery = `
	SELECT COALESCE(SUM(CASE WHEN transaction_type IN ('CREDIT', 'TRANSFER_IN') THEN amount ELSE -amount END), 0)
	FROM transactions
	WHERE user_id = ?`

func sumTransactions(row scanner) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, classify(fmt.Errorf("database error: %w", err))
	}
	return sum, nil
}

func (s *MySQLStore) ListBalanceHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.BalanceHistory, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM balance_history WHERE user_id = ?", userID).Scan(&total)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	query := `
		SELECT id, user_id, balance, change_amount, transaction_id, created_at
		FROM balance_history
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}
	defer rows.Close()

	history := make([]*models.BalanceHistory, 0, limit)
	for rows.Next() {
		var record models.BalanceHistory
		var transactionID sql.NullInt64

		err := rows.Scan(
			&record.ID, &record.UserID, &record.Balance, &record.ChangeAmount,
			&transactionID, &record.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning balance history: %w", err)
		}

		if transactionID.Valid {
			val := transactionID.Int64
			record.TransactionID = &val
		}

		history = append(history, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(fmt.Errorf("database error: %w", err))
	}

	return history, total, nil
}

func (s *MySQLStore) BalanceAt(ctx context.Context, userID int64, at time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal

	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM balance_history
		 WHERE user_id = ? AND created_at <= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID, at.UTC(),
	).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, classify(fmt.Errorf("database error: %w", err))
	}
	return balance, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockUsers(ctx context.Context, ids ...int64) (map[int64]*models.User, error) {
	ids = sortedUnique(ids)
	users := make(map[int64]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id IN ("+placeholders+") ORDER BY id FOR UPDATE",
		args...,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to lock users: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to lock users: %w", err))
	}

	return users, nil
}

func (t *mysqlTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions
			(user_id, transaction_type, amount, description, recipient_user_id, reference_transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.UserID, string(tr.Type), tr.Amount, tr.Description, tr.RecipientUserID, tr.ReferenceTransactionID, createdAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to create transaction: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction ID: %w", err)
	}

	tr.ID = id
	tr.CreatedAt = createdAt
	return nil
}

func (t *mysqlTx) SetReference(ctx context.Context, id, referenceID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE transactions SET reference_transaction_id = ? WHERE id = ?",
		referenceID, id,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to link transaction: %w", err))
	}
	return nil
}

func (t *mysqlTx) UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE users SET balance = ?, updated_at = ? WHERE id = ?",
		balance, time.Now().UTC().Truncate(time.Microsecond), userID,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to update balance: %w", err))
	}
	return nil
}

func (t *mysqlTx) InsertBalanceHistory(ctx context.Context, h *models.BalanceHistory) error {
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	result, err := t.tx.ExecContext(ctx,
		"INSERT INTO balance_history (user_id, balance, change_amount, transaction_id, created_at) VALUES (?, ?, ?, ?, ?)",
		h.UserID, h.Balance, h.ChangeAmount, h.TransactionID, createdAt,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to record balance history: %w", err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get balance history ID: %w", err)
	}

	h.ID = id
	h.CreatedAt = createdAt
	return nil
}

// SumTransactions runs on the commit's own connection, so a caller holding
// row locks never waits for a second pooled connection.
func (t *mysqlTx) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return sumTransactions(t.tx.QueryRowContext(ctx, sumTransactionsQuery, userID))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	var phone sql.NullString
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &phone, &user.Balance, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.PhoneNumber = phone.String
	return &user, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var transaction models.Transaction
	var transactionType string
	var description sql.NullString
	var recipientUserID, referenceID sql.NullInt64

	err := row.Scan(
		&transaction.ID, &transaction.UserID, &transactionType, &transaction.Amount,
		&description, &recipientUserID, &referenceID, &transaction.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	transaction.Type = models.TransactionType(transactionType)
	if !transaction.Type.Valid() {
		return nil, fmt.Errorf("transaction %d: unknown type %q", transaction.ID, transactionType)
	}
	if description.Valid {
		val := description.String
		transaction.Description = &val
	}
	if recipientUserID.Valid {
		val := recipientUserID.Int64
		transaction.RecipientUserID = &val
	}
	if referenceID.Valid {
		val := referenceID.Int64
		transaction.ReferenceTransactionID = &val
	}

	return &transaction, nil
}

// classify maps driver errors onto the store error set.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case mysqlErrDuplicateEntry:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	return err
}
