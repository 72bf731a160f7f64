package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a named bucket of money owned by the ledger.
// Balance always equals the sum of the amounts of every transaction
// recorded against the account since it was created.
type Account struct {
	ID        string          `json:"id"` // ULID, sortable by creation time
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TotalBalance sums the balances of the given accounts.
func TotalBalance(accounts []Account) decimal.Decimal {
	total := decimal.Zero
	for _, acc := range accounts {
		total = total.Add(acc.Balance)
	}
	return total
}
