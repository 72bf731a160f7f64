package memory

import (
	"context"
	"sync"
	"time"

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
)

// MemoryStore is an in-memory implementation of interfaces.LedgerStore and
// interfaces.SessionStore. Everything it holds, pending sessions included,
// is lost when the process exits.
type MemoryStore struct {
	mu           sync.Mutex                 // protects all fields below
	accounts     map[string]*models.Account // accounts by id
	order        []string                   // account ids in creation order
	transactions []models.Transaction       // append-only transaction log
	sessions     map[int64]models.Session   // pending input by user id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*models.Account),
		sessions: make(map[int64]models.Session),
	}
}

// ListAccounts returns copies of all accounts in creation order.
func (m *MemoryStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]models.Account, 0, len(m.order))
	for _, id := range m.order {
		accounts = append(accounts, *m.accounts[id])
	}
	return accounts, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return models.Account{}, storage.ErrAccountNotFound
	}
	return *acc, nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := account
	m.accounts[acc.ID] = &acc
	m.order = append(m.order, acc.ID)
	return nil
}

func (m *MemoryStore) RenameAccount(ctx context.Context, id, name string, at time.Time) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return models.Account{}, storage.ErrAccountNotFound
	}
	acc.Name = name
	acc.UpdatedAt = at
	return *acc, nil
}

// AppendTransaction appends tx and applies its amount while holding the lock,
// so concurrent calls never lose an update.
func (m *MemoryStore) AppendTransaction(ctx context.Context, tx models.Transaction) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[tx.AccountID]
	if !ok {
		return models.Account{}, storage.ErrAccountNotFound
	}
	m.transactions = append(m.transactions, tx)
	acc.Balance = acc.Balance.Add(tx.Amount)
	acc.UpdatedAt = tx.CreatedAt
	return *acc, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transaction
	for _, tx := range m.transactions {
		if tx.AccountID == accountID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, userID int64) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return models.Session{}, storage.ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.UserID] = session
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

// Compile-time checks: MemoryStore serves both store contracts.
var (
	_ interfaces.LedgerStore  = (*MemoryStore)(nil)
	_ interfaces.SessionStore = (*MemoryStore)(nil)
)
