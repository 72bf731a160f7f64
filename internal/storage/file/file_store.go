package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
)

const backend = "file"

// document is the on-disk layout: one JSON object holding the whole ledger.
type document struct {
	Accounts     map[string]accountRecord  `json:"accounts"`
	Transactions []models.Transaction      `json:"transactions"`
	Sessions     map[string]models.Session `json:"sessions"`
}

type accountRecord struct {
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r accountRecord) toAccount(id string) models.Account {
	return models.Account{ID: id, Name: r.Name, Balance: r.Balance, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// FileStore keeps the ledger and the sessions in a single JSON file.
// Every call loads the file, applies its change and writes it back while
// holding mu, so this process is the only writer of the file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. A missing file is an empty
// ledger; it is created on the first write.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, storage.Wrap(backend, "open", err)
	}
	return s, nil
}

// load reads the document, filling in any section the file lacks.
func (s *FileStore) load() (*document, error) {
	doc := &document{}

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, err
		}
	}

	if doc.Accounts == nil {
		doc.Accounts = make(map[string]accountRecord)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]models.Session)
	}
	return doc, nil
}

// save writes the document to a temp file in the same directory and renames
// it over the old one, so readers never see a half-written ledger.
func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// update runs fn on a freshly loaded document and saves it when fn succeeds.
func (s *FileStore) update(op string, fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return storage.Wrap(backend, op, err)
	}
	if err := fn(doc); err != nil {
		return err
	}
	return storage.Wrap(backend, op, s.save(doc))
}

// view runs fn on a freshly loaded document without saving it.
func (s *FileStore) view(op string, fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return storage.Wrap(backend, op, err)
	}
	return fn(doc)
}

// ListAccounts returns accounts ordered by creation time, ties broken by id.
func (s *FileStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.view("list accounts", func(doc *document) error {
		accounts = make([]models.Account, 0, len(doc.Accounts))
		for id, rec := range doc.Accounts {
			accounts = append(accounts, rec.toAccount(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

func (s *FileStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var acc models.Account
	err := s.view("get account", func(doc *document) error {
		rec, ok := doc.Accounts[id]
		if !ok {
			return storage.ErrAccountNotFound
		}
		acc = rec.toAccount(id)
		return nil
	})
	return acc, err
}

func (s *FileStore) CreateAccount(ctx context.Context, account models.Account) error {
	return s.update("create account", func(doc *document) error {
		doc.Accounts[account.ID] = accountRecord{
			Name:      account.Name,
			Balance:   account.Balance,
			CreatedAt: account.CreatedAt,
			UpdatedAt: account.UpdatedAt,
		}
		return nil
	})
}

func (s *FileStore) RenameAccount(ctx context.Context, id, name string, at time.Time) (models.Account, error) {
	var acc models.Account
	err := s.update("rename account", func(doc *document) error {
		rec, ok := doc.Accounts[id]
		if !ok {
			return storage.ErrAccountNotFound
		}
		rec.Name = name
		rec.UpdatedAt = at
		doc.Accounts[id] = rec
		acc = rec.toAccount(id)
		return nil
	})
	return acc, err
}

func (s *FileStore) AppendTransaction(ctx context.Context, tx models.Transaction) (models.Account, error) {
	var acc models.Account
	err := s.update("append transaction", func(doc *document) error {
		rec, ok := doc.Accounts[tx.AccountID]
		if !ok {
			return storage.ErrAccountNotFound
		}
		rec.Balance = rec.Balance.Add(tx.Amount)
		rec.UpdatedAt = tx.CreatedAt
		doc.Accounts[tx.AccountID] = rec
		doc.Transactions = append(doc.Transactions, tx)
		acc = rec.toAccount(tx.AccountID)
		return nil
	})
	return acc, err
}

func (s *FileStore) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	var result []models.Transaction
	err := s.view("list transactions", func(doc *document) error {
		for _, tx := range doc.Transactions {
			if tx.AccountID == accountID {
				result = append(result, tx)
			}
		}
		return nil
	})
	return result, err
}

func (s *FileStore) GetSession(ctx context.Context, userID int64) (models.Session, error) {
	var session models.Session
	err := s.view("get session", func(doc *document) error {
		found, ok := doc.Sessions[sessionKey(userID)]
		if !ok {
			return storage.ErrSessionNotFound
		}
		session = found
		return nil
	})
	return session, err
}

func (s *FileStore) SaveSession(ctx context.Context, session models.Session) error {
	return s.update("save session", func(doc *document) error {
		doc.Sessions[sessionKey(session.UserID)] = session
		return nil
	})
}

func (s *FileStore) DeleteSession(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return storage.Wrap(backend, "delete session", err)
	}
	key := sessionKey(userID)
	if _, ok := doc.Sessions[key]; !ok {
		return nil
	}
	delete(doc.Sessions, key)
	return storage.Wrap(backend, "delete session", s.save(doc))
}

func sessionKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

var (
	_ interfaces.LedgerStore  = (*FileStore)(nil)
	_ interfaces.SessionStore = (*FileStore)(nil)
)
