// Package store holds the ledger storage contract and its MySQL and in-memory
// implementations.
//
// All balance mutations happen inside WithTx. A Tx locks the users it touches
// with LockUsers before reading their balances, so two commits touching the
// same user are serialized and the second one observes the first one's effect.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"wallet-ledger/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports lock contention, a deadlock or a lock wait timeout.
	// The commit was rolled back and the whole unit of work may be retried.
	ErrConflict  = errors.New("commit conflict")
	ErrDuplicate = errors.New("duplicate record")
)

type Reader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	// ListTransactions returns the user's transactions newest first
	// (created_at DESC, id DESC) together with the total row count.
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, int, error)
	// SumTransactions returns the signed sum of the user's transactions.
	SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error)
	ListBalanceHistory(ctx context.Context, userID int64, limit, offset int) ([]*models.BalanceHistory, int, error)
	// BalanceAt returns the balance recorded by the latest history row at or
	// before at, or zero when there is none.
	BalanceAt(ctx context.Context, userID int64, at time.Time) (decimal.Decimal, error)
}

type Store interface {
	Reader
	// WithTx runs fn inside one atomic commit. The commit happens only when fn
	// returns nil; any error or panic rolls every write back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error
	Close() error
}

type Tx interface {
	// LockUsers locks the given users in ascending id order and returns the
	// ones that exist. Missing ids are absent from the map.
	LockUsers(ctx context.Context, ids ...int64) (map[int64]*models.User, error)
	// InsertTransaction assigns ID and CreatedAt.
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	SetReference(ctx context.Context, id, referenceID int64) error
	UpdateBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
	InsertBalanceHistory(ctx context.Context, h *models.BalanceHistory) error
	// SumTransactions is Reader.SumTransactions seen from inside the commit,
	// including rows inserted by it.
	SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error)
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
