package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountRegistry resolves users and owns every balance write. Writes only
// happen through applyDelta, which runs inside a TransactionService commit.
type AccountRegistry struct {
	store  store.Store
	cfg    config.LedgerConfig
	logger zerolog.Logger
}

func NewAccountRegistry(st store.Store, cfg config.LedgerConfig, logger zerolog.Logger) *AccountRegistry {
	return &AccountRegistry{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

func (r *AccountRegistry) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return user, nil
}

func (r *AccountRegistry) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	user, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Balance{
		UserID:        user.ID,
		Amount:        user.Balance,
		LastUpdatedAt: user.UpdatedAt,
	}, nil
}

// lock takes the row locks for userIDs and reports the first missing user in
// the order given, so callers control which side is reported first.
func (r *AccountRegistry) lock(ctx context.Context, tx store.Tx, userIDs ...int64) (map[int64]*models.User, error) {
	users, err := tx.LockUsers(ctx, userIDs...)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		if _, ok := users[id]; !ok {
			return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
		}
	}
	return users, nil
}

func (r *AccountRegistry) applyDelta(ctx context.Context, tx store.Tx, user *models.User, delta decimal.Decimal, transactionID int64) error {
	newBalance := user.Balance.Add(delta)
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}

	if err := tx.UpdateBalance(ctx, user.ID, newBalance); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	user.Balance = newBalance

	err := tx.InsertBalanceHistory(ctx, &models.BalanceHistory{
		UserID:        user.ID,
		Balance:       newBalance,
		ChangeAmount:  delta,
		TransactionID: &transactionID,
	})
	if errors.Is(err, store.ErrConflict) {
		return err
	}
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to record balance history (non-critical)")
	}

	return nil
}

func (r *AccountRegistry) GetBalanceHistory(ctx context.Context, userID int64, page, limit int) (*models.BalanceHistoryPage, error) {
	page, limit, err := normalizePage(page, limit, math.MaxInt)
	if err != nil {
		return nil, err
	}
	if _, err := r.Get(ctx, userID); err != nil {
		return nil, err
	}

	history, total, err := r.store.ListBalanceHistory(ctx, userID, limit, pageOffset(page, limit))
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching balance history")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return &models.BalanceHistoryPage{
		Items: history,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

func (r *AccountRegistry) GetBalanceAtTime(ctx context.Context, userID int64, targetTime time.Time) (decimal.Decimal, error) {
	if _, err := r.Get(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	balance, err := r.store.BalanceAt(ctx, userID, targetTime)
	if err != nil {
		r.logger.Error().Err(err).Int64("user_id", userID).Time("target_time", targetTime).Msg("Error fetching balance at time")
		return decimal.Zero, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return balance, nil
}

// Reconcile compares the stored balance with the signed sum of the user's
// ledger. Both are read inside one commit holding the user's lock, bounded by
// the ledger transaction timeout.
func (r *AccountRegistry) Reconcile(ctx context.Context, userID int64) (*models.Reconciliation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TxTimeout)
	defer cancel()

	var result *models.Reconciliation

	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		users, err := r.lock(ctx, tx, userID)
		if err != nil {
			return err
		}

		sum, err := tx.SumTransactions(ctx, userID)
		if err != nil {
			return err
		}

		balance := users[userID].Balance
		result = &models.Reconciliation{
			UserID:     userID,
			Balance:    balance,
			LedgerSum:  sum,
			Consistent: balance.Equal(sum),
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, err
	case errors.Is(err, store.ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: reconcile: %w", ErrRetryable, err)
	case err != nil:
		r.logger.Error().Err(err).Int64("user_id", userID).Msg("Error reconciling balance")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	if !result.Consistent {
		r.logger.Warn().
			Int64("user_id", userID).
			Str("current_balance", result.Balance.String()).
			Str("calculated_balance", result.LedgerSum.String()).
			Msg("Balance discrepancy detected")
	}

	return result, nil
}
