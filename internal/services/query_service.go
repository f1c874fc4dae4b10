package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"wallet-ledger/internal/cache"
	"wallet-ledger/internal/config"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
)

// QueryService is the read side of the ledger. It never takes locks.
type QueryService struct {
	store  store.Reader
	cache  cache.TransactionCache
	cfg    config.LedgerConfig
	logger zerolog.Logger
}

func NewQueryService(st store.Reader, txCache cache.TransactionCache, cfg config.LedgerConfig, logger zerolog.Logger) *QueryService {
	return &QueryService{
		store:  st,
		cache:  txCache,
		cfg:    cfg,
		logger: logger,
	}
}

// ListTransactions returns one page of the user's transactions, newest first.
// A limit above the configured maximum is clamped.
func (s *QueryService) ListTransactions(ctx context.Context, userID int64, page, limit int) (*models.TransactionPage, error) {
	page, limit, err := normalizePage(page, limit, s.cfg.MaxPageLimit)
	if err != nil {
		return nil, err
	}

	items, total, err := s.store.ListTransactions(ctx, userID, limit, pageOffset(page, limit))
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user transactions")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return &models.TransactionPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

func (s *QueryService) GetTransaction(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	cached, err := s.cache.Get(ctx, transactionID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Int64("transaction_id", transactionID).Msg("Transaction cache read failed")
	}

	transaction, err := s.store.GetTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("transaction_id", transactionID).Msg("Error fetching transaction")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	if err := s.cache.Set(ctx, transaction); err != nil {
		s.logger.Warn().Err(err).Int64("transaction_id", transactionID).Msg("Failed to cache transaction")
	}
	return transaction, nil
}

// normalizePage clamps limit to maxLimit and rejects pages whose offset
// would not fit in an int.
func normalizePage(page, limit, maxLimit int) (int, int, error) {
	if page < 1 || limit < 1 {
		return 0, 0, ErrInvalidPagination
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if page-1 > math.MaxInt/limit {
		return 0, 0, fmt.Errorf("%w: page %d is out of range", ErrInvalidPagination, page)
	}
	return page, limit, nil
}

func pageOffset(page, limit int) int {
	return (page - 1) * limit
}

func totalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
