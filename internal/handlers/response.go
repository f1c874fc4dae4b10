package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"wallet-ledger/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Data: payload})
}

func respondWithError(w http.ResponseWriter, code int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorEnvelope{
		Error:   errorCode,
		Message: message,
	})
}

// respondWithServiceError maps service errors onto HTTP statuses. Storage
// details are logged but never sent to the client.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, services.ErrTransactionNotFound):
		respondWithError(w, http.StatusNotFound, "transaction_not_found", err.Error())
	case errors.Is(err, services.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, services.ErrSameAccount):
		respondWithError(w, http.StatusBadRequest, "same_account", err.Error())
	case errors.Is(err, services.ErrValidation):
		respondWithError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, services.ErrInvalidPagination):
		respondWithError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		respondWithError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, services.ErrDuplicateUser):
		respondWithError(w, http.StatusConflict, "duplicate_user", err.Error())
	case errors.Is(err, services.ErrRetryable):
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusServiceUnavailable, "retryable", "The operation did not complete, please retry")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondWithError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// pagination reads page and limit, falling back to defaults when absent.
// Malformed or out of range values are reported with ok == false.
func pagination(r *http.Request, defaultLimit, maxLimit int) (page, limit int, ok bool) {
	page, limit = 1, defaultLimit
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return 0, 0, false
		}
		page = p
	}
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 || l > maxLimit {
			return 0, 0, false
		}
		limit = l
	}
	return page, limit, true
}
