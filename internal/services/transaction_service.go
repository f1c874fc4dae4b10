package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/cache"
	"wallet-ledger/internal/config"
	"wallet-ledger/internal/events"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	amountScale        = 2
	maxIntegerDigits   = 18
	maxAmountExponent  = 40
	maxCoefficientBits = 128
)

// maxBalance is the exclusive upper bound of a DECIMAL(20,2) balance.
var maxBalance = decimal.New(1, maxIntegerDigits)

// TransactionService executes credits, debits and transfers. Each operation
// validates, writes its ledger rows and moves the balances in one store
// commit, so either every effect is visible or none is.
type TransactionService struct {
	store     store.Store
	accounts  *AccountRegistry
	cache     cache.TransactionCache
	publisher events.Publisher
	cfg       config.LedgerConfig
	logger    zerolog.Logger
}

func NewTransactionService(
	st store.Store,
	accounts *AccountRegistry,
	txCache cache.TransactionCache,
	publisher events.Publisher,
	cfg config.LedgerConfig,
	logger zerolog.Logger,
) *TransactionService {
	return &TransactionService{
		store:     st,
		accounts:  accounts,
		cache:     txCache,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Credit returns the CREDIT row together with the balance it produced.
func (s *TransactionService) Credit(ctx context.Context, userID int64, amount decimal.Decimal, description *string) (*models.MoneyOperationResponse, error) {
	var result *models.MoneyOperationResponse

	err := s.runInTx(ctx, "credit", func(ctx context.Context, tx store.Tx) error {
		users, err := s.accounts.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := validateAmount(amount); err != nil {
			return err
		}
		if err := checkCeiling(users[userID].Balance, amount); err != nil {
			return err
		}

		transaction := &models.Transaction{
			UserID:      userID,
			Type:        models.TransactionTypeCredit,
			Amount:      amount,
			Description: description,
		}
		if err := tx.InsertTransaction(ctx, transaction); err != nil {
			return err
		}

		if err := s.accounts.applyDelta(ctx, tx, users[userID], amount, transaction.ID); err != nil {
			return err
		}
		result = &models.MoneyOperationResponse{Transaction: transaction, NewBalance: users[userID].Balance}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Credit transaction failed", userID, amount)
		return nil, err
	}

	s.afterCommit(ctx, result.Transaction)

	s.logger.Info().
		Int64("transaction_id", result.Transaction.ID).
		Int64("user_id", userID).
		Str("amount", amount.String()).
		Str("new_balance", result.NewBalance.String()).
		Msg("Credit transaction completed")

	return result, nil
}

// Debit returns the DEBIT row together with the balance it produced.
func (s *TransactionService) Debit(ctx context.Context, userID int64, amount decimal.Decimal, description *string) (*models.MoneyOperationResponse, error) {
	var result *models.MoneyOperationResponse

	err := s.runInTx(ctx, "debit", func(ctx context.Context, tx store.Tx) error {
		users, err := s.accounts.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := validateAmount(amount); err != nil {
			return err
		}
		if users[userID].Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		transaction := &models.Transaction{
			UserID:      userID,
			Type:        models.TransactionTypeDebit,
			Amount:      amount,
			Description: description,
		}
		if err := tx.InsertTransaction(ctx, transaction); err != nil {
			return err
		}

		if err := s.accounts.applyDelta(ctx, tx, users[userID], amount.Neg(), transaction.ID); err != nil {
			return err
		}
		result = &models.MoneyOperationResponse{Transaction: transaction, NewBalance: users[userID].Balance}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Debit transaction failed", userID, amount)
		return nil, err
	}

	s.afterCommit(ctx, result.Transaction)

	s.logger.Info().
		Int64("transaction_id", result.Transaction.ID).
		Int64("user_id", userID).
		Str("amount", amount.String()).
		Str("new_balance", result.NewBalance.String()).
		Msg("Debit transaction completed")

	return result, nil
}

// Transfer returns the sender's TRANSFER_OUT row and the recipient's
// TRANSFER_IN row, each referencing the other, with both resulting balances.
func (s *TransactionService) Transfer(ctx context.Context, senderID, recipientID int64, amount decimal.Decimal, description *string) (*models.TransferResponse, error) {
	if senderID == recipientID {
		s.logFailure(ErrSameAccount, "Transfer transaction failed", senderID, amount)
		return nil, ErrSameAccount
	}

	var result *models.TransferResponse

	err := s.runInTx(ctx, "transfer", func(ctx context.Context, tx store.Tx) error {
		users, err := s.accounts.lock(ctx, tx, senderID, recipientID)
		if err != nil {
			return err
		}
		if err := validateAmount(amount); err != nil {
			return err
		}
		sender, recipient := users[senderID], users[recipientID]
		if sender.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		if err := checkCeiling(recipient.Balance, amount); err != nil {
			return err
		}

		outgoing := &models.Transaction{
			UserID:          senderID,
			Type:            models.TransactionTypeTransferOut,
			Amount:          amount,
			Description:     description,
			RecipientUserID: &recipientID,
		}
		if err := tx.InsertTransaction(ctx, outgoing); err != nil {
			return err
		}

		outgoingID := outgoing.ID
		incoming := &models.Transaction{
			UserID:                 recipientID,
			Type:                   models.TransactionTypeTransferIn,
			Amount:                 amount,
			Description:            description,
			RecipientUserID:        &senderID,
			ReferenceTransactionID: &outgoingID,
		}
		if err := tx.InsertTransaction(ctx, incoming); err != nil {
			return err
		}

		incomingID := incoming.ID
		if err := tx.SetReference(ctx, outgoing.ID, incomingID); err != nil {
			return err
		}
		outgoing.ReferenceTransactionID = &incomingID

		if err := s.accounts.applyDelta(ctx, tx, sender, amount.Neg(), outgoing.ID); err != nil {
			return err
		}
		if err := s.accounts.applyDelta(ctx, tx, recipient, amount, incoming.ID); err != nil {
			return err
		}

		result = &models.TransferResponse{
			Outgoing:         outgoing,
			Incoming:         incoming,
			SenderBalance:    sender.Balance,
			RecipientBalance: recipient.Balance,
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Transfer transaction failed", senderID, amount)
		return nil, err
	}

	s.afterCommit(ctx, result.Outgoing, result.Incoming)

	s.logger.Info().
		Int64("transaction_id", result.Outgoing.ID).
		Int64("reference_transaction_id", result.Incoming.ID).
		Int64("from_user_id", senderID).
		Int64("to_user_id", recipientID).
		Str("amount", amount.String()).
		Msg("Transfer transaction completed")

	return result, nil
}

// runInTx runs fn in a store commit with a per-attempt timeout. Conflicts and
// attempt timeouts are retried up to MaxRetries times; business rule errors
// are returned as they are.
func (s *TransactionService) runInTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		err := s.store.WithTx(attemptCtx, func(tx store.Tx) error {
			return fn(attemptCtx, tx)
		})
		cancel()

		switch {
		case err == nil:
			return nil
		case isBusinessError(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %s: %w", ErrRetryable, op, ctx.Err())
		case !errors.Is(err, store.ErrConflict) && !errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
		case attempt >= s.cfg.MaxRetries:
			return fmt.Errorf("%w: %s gave up after %d attempts: %w", ErrRetryable, op, attempt+1, err)
		}

		s.logger.Warn().Err(err).Str("operation", op).Int("attempt", attempt+1).Msg("Commit conflict, retrying")

		select {
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrRetryable, op, ctx.Err())
		}
	}
}

func (s *TransactionService) afterCommit(ctx context.Context, transactions ...*models.Transaction) {
	for _, t := range transactions {
		if err := s.cache.Set(ctx, t); err != nil {
			s.logger.Warn().Err(err).Int64("transaction_id", t.ID).Msg("Failed to cache transaction")
		}
		if err := s.publisher.Publish(ctx, t); err != nil {
			s.logger.Warn().Err(err).Int64("transaction_id", t.ID).Msg("Failed to publish transaction event")
		}
	}
}

func (s *TransactionService) logFailure(err error, msg string, userID int64, amount decimal.Decimal) {
	event := s.logger.Error()
	if isBusinessError(err) {
		event = s.logger.Warn()
	}
	event.Err(err).Int64("user_id", userID).Str("amount", amount.String()).Msg(msg)
}

// validateAmount accepts positive amounts that fit a DECIMAL(20,2) column.
// Round rescales the coefficient, so the exponent and coefficient size are
// bounded before it is called.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	exp := amount.Exponent()
	if exp < -maxAmountExponent || exp > maxAmountExponent || amount.Coefficient().BitLen() > maxCoefficientBits {
		return ErrInvalidAmount
	}
	if int(exp)+amount.NumDigits() > maxIntegerDigits {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// checkCeiling rejects a credit that would push balance past what the
// balance column can hold.
func checkCeiling(balance, amount decimal.Decimal) error {
	if balance.Add(amount).GreaterThanOrEqual(maxBalance) {
		return fmt.Errorf("%w: balance would reach %s", ErrInvalidAmount, maxBalance)
	}
	return nil
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSameAccount)
}
