package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
)

const backend = "postgres"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         VARCHAR(255) PRIMARY KEY,
	name       VARCHAR(255) NOT NULL,
	balance    NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	id          VARCHAR(64) PRIMARY KEY,
	account_id  VARCHAR(255) NOT NULL REFERENCES accounts(id),
	amount      NUMERIC NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
	user_id      BIGINT PRIMARY KEY,
	session_data JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
`

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, storage.Wrap(backend, "open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Wrap(backend, "ping", err)
	}
	return db, nil
}

// Migrate creates the tables and indexes when they do not exist yet.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return storage.Wrap(backend, "migrate", err)
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const query = `SELECT id, name, balance, created_at, updated_at FROM accounts ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storage.Wrap(backend, "list accounts", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var acc models.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, storage.Wrap(backend, "list accounts", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "list accounts", err)
	}
	return accounts, nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, name, balance, created_at, updated_at FROM accounts WHERE id = $1`

	var acc models.Account
	err := p.db.QueryRowContext(ctx, query, id).Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, storage.ErrAccountNotFound
	}
	return acc, storage.Wrap(backend, "get account", err)
}

func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, name, balance, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := p.db.ExecContext(ctx, query, account.ID, account.Name, account.Balance, account.CreatedAt, account.UpdatedAt)
	return storage.Wrap(backend, "create account", err)
}

func (p *PostgresLedgerStore) RenameAccount(ctx context.Context, id, name string, at time.Time) (models.Account, error) {
	const query = `UPDATE accounts SET name = $1, updated_at = $2 WHERE id = $3
	RETURNING id, name, balance, created_at, updated_at`

	var acc models.Account
	err := p.db.QueryRowContext(ctx, query, name, at, id).Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, storage.ErrAccountNotFound
	}
	return acc, storage.Wrap(backend, "rename account", err)
}

// AppendTransaction applies the balance update and inserts the transaction
// in one database transaction: both are committed or neither is.
func (p *PostgresLedgerStore) AppendTransaction(ctx context.Context, tx models.Transaction) (acc models.Account, err error) {
	const updateBalance = `UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3
	RETURNING id, name, balance, created_at, updated_at`
	const insertTransaction = `INSERT INTO transactions (id, account_id, amount, description, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, storage.Wrap(backend, "append transaction", err)
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	err = dbTx.QueryRowContext(ctx, updateBalance, tx.Amount, tx.CreatedAt, tx.AccountID).
		Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, storage.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, storage.Wrap(backend, "append transaction", err)
	}

	_, err = dbTx.ExecContext(ctx, insertTransaction, tx.ID, tx.AccountID, tx.Amount, tx.Description, tx.CreatedAt)
	if err != nil {
		return models.Account{}, storage.Wrap(backend, "append transaction", err)
	}

	if err = dbTx.Commit(); err != nil {
		return models.Account{}, storage.Wrap(backend, "append transaction", err)
	}
	return acc, nil
}

func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const query = `SELECT id, account_id, amount, description, created_at FROM transactions
	WHERE account_id = $1 ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, storage.Wrap(backend, "list transactions", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, storage.Wrap(backend, "list transactions", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap(backend, "list transactions", err)
	}
	return txs, nil
}

func (p *PostgresLedgerStore) GetSession(ctx context.Context, userID int64) (models.Session, error) {
	const query = `SELECT session_data FROM sessions WHERE user_id = $1`

	var raw []byte
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, storage.ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, storage.Wrap(backend, "get session", err)
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return models.Session{}, storage.Wrap(backend, "get session", err)
	}
	return session, nil
}

func (p *PostgresLedgerStore) SaveSession(ctx context.Context, session models.Session) error {
	const query = `INSERT INTO sessions (user_id, session_data, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_id)
	DO UPDATE SET session_data = EXCLUDED.session_data, updated_at = EXCLUDED.updated_at`

	payload, err := json.Marshal(session)
	if err != nil {
		return storage.Wrap(backend, "save session", err)
	}
	_, err = p.db.ExecContext(ctx, query, session.UserID, string(payload), session.UpdatedAt)
	return storage.Wrap(backend, "save session", err)
}

func (p *PostgresLedgerStore) DeleteSession(ctx context.Context, userID int64) error {
	const query = `DELETE FROM sessions WHERE user_id = $1`

	_, err := p.db.ExecContext(ctx, query, userID)
	return storage.Wrap(backend, "delete session", err)
}

var (
	_ interfaces.LedgerStore  = (*PostgresLedgerStore)(nil)
	_ interfaces.SessionStore = (*PostgresLedgerStore)(nil)
)
