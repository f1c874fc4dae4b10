package handlers

import (
	"net/http"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/models"
	"wallet-ledger/internal/services"

	"github.com/rs/zerolog"
)

type UserHandler struct {
	userService *services.UserService
	cfg         config.LedgerConfig
	logger      zerolog.Logger
}

func NewUserHandler(userService *services.UserService, cfg config.LedgerConfig, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		cfg:         cfg,
		logger:      logger,
	}
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	user, err := h.userService.Register(r.Context(), &req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := pagination(r, h.cfg.DefaultPageLimit, h.cfg.MaxPageLimit)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_pagination", "page must be >= 1 and limit between 1 and the maximum page size")
		return
	}

	users, err := h.userService.ListUsers(r.Context(), page, limit)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, users)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	user, err := h.userService.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID")
		return
	}

	var req models.UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	user, err := h.userService.UpdateUser(r.Context(), userID, &req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, user)
}
