package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCredit      TransactionType = "CREDIT"
	TransactionTypeDebit       TransactionType = "DEBIT"
	TransactionTypeTransferIn  TransactionType = "TRANSFER_IN"
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit, TransactionTypeTransferIn, TransactionTypeTransferOut:
		return true
	}
	return false
}

func (t TransactionType) IsTransfer() bool {
	return t == TransactionTypeTransferIn || t == TransactionTypeTransferOut
}

// Signed returns the balance effect of an amount of this type.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == TransactionTypeDebit || t == TransactionTypeTransferOut {
		return amount.Neg()
	}
	return amount
}

type Transaction struct {
	ID                     int64           `json:"id"`
	UserID                 int64           `json:"user_id"`
	Type                   TransactionType `json:"transaction_type"`
	Amount                 decimal.Decimal `json:"amount"`
	Description            *string         `json:"description"`
	RecipientUserID        *int64          `json:"recipient_user_id"`
	ReferenceTransactionID *int64          `json:"reference_transaction_id"`
	CreatedAt              time.Time       `json:"created_at"`
}

type TransactionPage struct {
	Items      []*Transaction `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

type CreditRequest struct {
	UserID      int64           `json:"user_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Description *string         `json:"description" validate:"omitempty,max=255"`
}

type DebitRequest struct {
	UserID      int64           `json:"user_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Description *string         `json:"description" validate:"omitempty,max=255"`
}

type TransferRequest struct {
	SenderUserID    int64           `json:"sender_user_id" validate:"required,gt=0"`
	RecipientUserID int64           `json:"recipient_user_id" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	Description     *string         `json:"description" validate:"omitempty,max=255"`
}

type MoneyOperationResponse struct {
	Transaction *Transaction    `json:"transaction"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}

type TransferResponse struct {
	Outgoing         *Transaction    `json:"outgoing"`
	Incoming         *Transaction    `json:"incoming"`
	SenderBalance    decimal.Decimal `json:"sender_balance"`
	RecipientBalance decimal.Decimal `json:"recipient_balance"`
}
