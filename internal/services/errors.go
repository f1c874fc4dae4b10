package services

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUserNotFound        = wrapNotFound("user not found")
	ErrTransactionNotFound = wrapNotFound("transaction not found")

	ErrInvalidAmount     = errors.New("amount must be a positive value with at most two decimal places")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSameAccount       = errors.New("cannot transfer to the same account")

	// ErrRetryable means the operation did not commit because of contention or
	// a timeout. State is unchanged and the whole call may be repeated.
	ErrRetryable = errors.New("operation did not commit, retry")
	// ErrStorageFailure is an unrecoverable storage error. State is unchanged.
	ErrStorageFailure = errors.New("storage failure")

	ErrDuplicateUser     = errors.New("user with this email or username already exists")
	ErrInvalidPagination = errors.New("page and limit must be positive")
)

type notFoundError struct {
	msg string
}

func wrapNotFound(msg string) error {
	return &notFoundError{msg: msg}
}

func (e *notFoundError) Error() string {
	return e.msg
}

func (e *notFoundError) Unwrap() error {
	return ErrNotFound
}
