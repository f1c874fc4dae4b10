package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// UserService manages profiles. It never touches balances; new users start at
// zero and only TransactionService moves money.
type UserService struct {
	store  store.Store
	cfg    config.LedgerConfig
	logger zerolog.Logger
}

func NewUserService(st store.Store, cfg config.LedgerConfig, logger zerolog.Logger) *UserService {
	return &UserService{
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	user := &models.User{
		Username:    req.Username,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Balance:     decimal.Zero,
	}

	err := s.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrDuplicateUser
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Error creating user")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User registered successfully")
	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, page, limit int) (*models.UserPage, error) {
	page, limit, err := normalizePage(page, limit, s.cfg.MaxPageLimit)
	if err != nil {
		return nil, err
	}

	users, total, err := s.store.ListUsers(ctx, limit, pageOffset(page, limit))
	if err != nil {
		s.logger.Error().Err(err).Msg("Error listing users")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return &models.UserPage{
		Items:      users,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

func (s *UserService) UpdateUser(ctx context.Context, userID int64, req *models.UpdateUserRequest) (*models.User, error) {
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		req.Username = &trimmed
	}
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.PhoneNumber != nil {
		user.PhoneNumber = *req.PhoneNumber
	}

	err = s.store.UpdateUser(ctx, user)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrDuplicateUser
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrUserNotFound
	case err != nil:
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error updating user")
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.logger.Info().Int64("user_id", userID).Msg("User updated")
	return user, nil
}
