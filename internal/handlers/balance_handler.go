package handlers

import (
	"net/http"
	"time"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/services"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type BalanceHandler struct {
	accounts *services.AccountRegistry
	cfg      config.LedgerConfig
	logger   zerolog.Logger
}

func NewBalanceHandler(accounts *services.AccountRegistry, cfg config.LedgerConfig, logger zerolog.Logger) *BalanceHandler {
	return &BalanceHandler{
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
	}
}

type balanceAtTimeResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	AtTime  time.Time       `json:"at_time"`
}

func (h *BalanceHandler) GetCurrentBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	balance, err := h.accounts.GetBalance(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

func (h *BalanceHandler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	page, limit, ok := pagination(r, h.cfg.DefaultPageLimit, h.cfg.MaxPageLimit)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_pagination", "page must be >= 1 and limit between 1 and the maximum page size")
		return
	}

	history, err := h.accounts.GetBalanceHistory(r.Context(), userID, page, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *BalanceHandler) GetBalanceAtTime(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	timeStr := r.URL.Query().Get("time")
	if timeStr == "" {
		respondWithError(w, http.StatusBadRequest, "missing_parameter", "time parameter is required")
		return
	}

	targetTime, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_time", "Invalid time format. Use RFC3339 format")
		return
	}

	balance, err := h.accounts.GetBalanceAtTime(r.Context(), userID, targetTime)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balanceAtTimeResponse{
		UserID:  userID,
		Balance: balance,
		AtTime:  targetTime,
	})
}

func (h *BalanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	result, err := h.accounts.Reconcile(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}
