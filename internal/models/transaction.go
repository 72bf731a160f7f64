package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one signed movement of money on an account.
// Transactions are append-only: once recorded they are never amended or removed.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"` // positive = income, negative = expense
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsIncome reports whether the transaction credits the account.
func (t Transaction) IsIncome() bool {
	return t.Amount.IsPositive()
}

// IsExpense reports whether the transaction debits the account.
func (t Transaction) IsExpense() bool {
	return t.Amount.IsNegative()
}
