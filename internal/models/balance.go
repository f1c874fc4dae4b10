package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

type BalanceHistory struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	ChangeAmount  decimal.Decimal `json:"change_amount"`
	TransactionID *int64          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type BalanceHistoryPage struct {
	Items []*BalanceHistory `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type Reconciliation struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}
