package handlers

import (
	"net/http"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/services"

	"github.com/rs/zerolog"
)

type TransactionHandler struct {
	transactionService *services.TransactionService
	queryService       *services.QueryService
	cfg                config.LedgerConfig
	logger             zerolog.Logger
}

func NewTransactionHandler(
	transactionService *services.TransactionService,
	queryService *services.QueryService,
	cfg config.LedgerConfig,
	logger zerolog.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		queryService:       queryService,
		cfg:                cfg,
		logger:             logger,
	}
}

func (h *TransactionHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req models.CreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := services.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	result, err := h.transactionService.Credit(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req models.DebitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := services.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	result, err := h.transactionService.Debit(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := services.ValidateRequest(&req); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	result, err := h.transactionService.Transfer(r.Context(), req.SenderUserID, req.RecipientUserID, req.Amount, req.Description)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.queryService.ListTransactions(r.Context(), userID, page, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_transaction_id", "Invalid transaction ID")
		return
	}

	transaction, err := h.queryService.GetTransaction(r.Context(), transactionID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transaction)
}
