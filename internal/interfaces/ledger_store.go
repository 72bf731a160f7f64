package interfaces

import (
	"context"
	"time"

	"github.com/seezam/finbot/internal/models"
)

// LedgerStore persists accounts and the append-only transaction log.
// Adapters return storage.ErrAccountNotFound for unknown account ids and wrap
// every other failure in *storage.Error.
type LedgerStore interface {
	// ListAccounts returns every account in creation order.
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)
	CreateAccount(ctx context.Context, account models.Account) error
	RenameAccount(ctx context.Context, id, name string, at time.Time) (models.Account, error)
	// AppendTransaction records tx and adds tx.Amount to the account balance
	// as one atomic step. It returns the account as it is after the update.
	AppendTransaction(ctx context.Context, tx models.Transaction) (models.Account, error)
	ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error)
}
