package services

import (
	"context"
	"math"
	"testing"
	"time"

	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRegistry_GetBalance(t *testing.T) {
	f := newFixture(t, nil, nil)
	u := f.register(t, "alice")

	b, err := f.accounts.GetBalance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())
	assert.Equal(t, u.ID, b.UserID)

	_, err = f.accounts.GetBalance(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountRegistry_BalanceHistory(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	u := f.register(t, "alice")
	before := time.Now().UTC().Add(-time.Hour)

	credit, err := f.transactions.Credit(ctx, u.ID, amount("100.00"), nil)
	require.NoError(t, err)
	debit, err := f.transactions.Debit(ctx, u.ID, amount("40.00"), nil)
	require.NoError(t, err)

	page, err := f.accounts.GetBalanceHistory(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)

	latest := page.Items[0]
	assert.Equal(t, debit.Transaction.ID, *latest.TransactionID)
	assert.Equal(t, "60.00", latest.Balance.StringFixed(2))
	assert.Equal(t, "-40.00", latest.ChangeAmount.StringFixed(2))
	assert.Equal(t, credit.Transaction.ID, *page.Items[1].TransactionID)

	_, err = f.accounts.GetBalanceHistory(ctx, u.ID, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidPagination)

	_, err = f.accounts.GetBalanceHistory(ctx, u.ID, math.MaxInt/2, 10)
	assert.ErrorIs(t, err, ErrInvalidPagination)

	_, err = f.accounts.GetBalanceHistory(ctx, 404, 1, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)

	t.Run("balance at time", func(t *testing.T) {
		past, err := f.accounts.GetBalanceAtTime(ctx, u.ID, before)
		require.NoError(t, err)
		assert.True(t, past.IsZero())

		now, err := f.accounts.GetBalanceAtTime(ctx, u.ID, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "60.00", now.StringFixed(2))

		_, err = f.accounts.GetBalanceAtTime(ctx, 404, before)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestAccountRegistry_Reconcile(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a, b := f.register(t, "alice"), f.register(t, "bob")

	_, err := f.transactions.Credit(ctx, a.ID, amount("80.00"), nil)
	require.NoError(t, err)
	_, err = f.transactions.Transfer(ctx, a.ID, b.ID, amount("30.50"), nil)
	require.NoError(t, err)

	rec, err := f.accounts.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, "49.50", rec.LedgerSum.StringFixed(2))

	_, err = f.accounts.Reconcile(ctx, 404)
	assert.ErrorIs(t, err, ErrUserNotFound)

	t.Run("gives up while the row stays locked", func(t *testing.T) {
		cfg := testConfig()
		cfg.TxTimeout = 50 * time.Millisecond
		accounts := NewAccountRegistry(f.store, cfg, zerolog.Nop())

		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- f.store.WithTx(ctx, func(tx store.Tx) error {
				if _, err := tx.LockUsers(ctx, a.ID); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		_, err := accounts.Reconcile(ctx, a.ID)
		assert.ErrorIs(t, err, ErrRetryable)

		close(release)
		require.NoError(t, <-done)

		rec, err := accounts.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, rec.Consistent)
	})
}
