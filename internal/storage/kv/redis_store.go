package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
)

const (
	backend = "redis"

	// maxTxRetries bounds optimistic WATCH/MULTI retries under contention.
	maxTxRetries = 10
)

var errTooMuchContention = errors.New("transaction aborted after repeated conflicts")

// RedisStore keeps the ledger in Redis:
//
//	<prefix>:accounts                  list of account ids, creation order
//	<prefix>:account:<id>              hash {name, balance, created_at, updated_at}
//	<prefix>:transactions:<accountID>  list of JSON transactions
//	<prefix>:session:<userID>          JSON session
type RedisStore struct {
	client redis.UniversalClient // works with both single and cluster
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Dial connects to a single Redis node and checks it answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storage.Wrap(backend, "ping", err)
	}
	return client, nil
}

func (r *RedisStore) accountsKey() string {
	return r.prefix + ":accounts"
}

func (r *RedisStore) accountKey(id string) string {
	return r.prefix + ":account:" + id
}

func (r *RedisStore) transactionsKey(accountID string) string {
	return r.prefix + ":transactions:" + accountID
}

func (r *RedisStore) sessionKey(userID int64) string {
	return r.prefix + ":session:" + strconv.FormatInt(userID, 10)
}

func accountFields(acc models.Account) map[string]any {
	return map[string]any{
		"name":       acc.Name,
		"balance":    acc.Balance.String(),
		"created_at": acc.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": acc.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func parseAccount(id string, fields map[string]string) (models.Account, error) {
	if len(fields) == 0 {
		return models.Account{}, storage.ErrAccountNotFound
	}

	balance, err := decimal.NewFromString(fields["balance"])
	if err != nil {
		return models.Account{}, err
	}
	acc := models.Account{ID: id, Name: fields["name"], Balance: balance}
	if acc.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return models.Account{}, err
	}
	if acc.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

func (r *RedisStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	ids, err := r.client.LRange(ctx, r.accountsKey(), 0, -1).Result()
	if err != nil {
		return nil, storage.Wrap(backend, "list accounts", err)
	}
	if len(ids) == 0 {
		return []models.Account{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.accountKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(backend, "list accounts", err)
	}

	accounts := make([]models.Account, 0, len(ids))
	for i, id := range ids {
		acc, err := parseAccount(id, cmds[i].Val())
		if err != nil {
			return nil, storage.Wrap(backend, "list accounts", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (r *RedisStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	fields, err := r.client.HGetAll(ctx, r.accountKey(id)).Result()
	if err != nil {
		return models.Account{}, storage.Wrap(backend, "get account", err)
	}
	acc, err := parseAccount(id, fields)
	return acc, storage.Wrap(backend, "get account", err)
}

func (r *RedisStore) CreateAccount(ctx context.Context, account models.Account) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.accountKey(account.ID), accountFields(account))
		pipe.RPush(ctx, r.accountsKey(), account.ID)
		return nil
	})
	return storage.Wrap(backend, "create account", err)
}

// mutateAccount applies fn to the current account state and writes the
// result back, retrying when another client changed the account in between.
func (r *RedisStore) mutateAccount(ctx context.Context, op, id string, fn func(acc *models.Account, pipe redis.Pipeliner)) (models.Account, error) {
	key := r.accountKey(id)
	var result models.Account

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		acc, err := parseAccount(id, fields)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(&acc, pipe)
			pipe.HSet(ctx, key, accountFields(acc))
			return nil
		})
		if err != nil {
			return err
		}
		result = acc
		return nil
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, storage.Wrap(backend, op, err)
	}
	return models.Account{}, storage.Wrap(backend, op, errTooMuchContention)
}

func (r *RedisStore) RenameAccount(ctx context.Context, id, name string, at time.Time) (models.Account, error) {
	return r.mutateAccount(ctx, "rename account", id, func(acc *models.Account, _ redis.Pipeliner) {
		acc.Name = name
		acc.UpdatedAt = at
	})
}

// AppendTransaction pushes tx onto the account's log and rewrites the balance
// in the same MULTI block as the WATCHed read.
func (r *RedisStore) AppendTransaction(ctx context.Context, tx models.Transaction) (models.Account, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return models.Account{}, storage.Wrap(backend, "append transaction", err)
	}

	return r.mutateAccount(ctx, "append transaction", tx.AccountID, func(acc *models.Account, pipe redis.Pipeliner) {
		acc.Balance = acc.Balance.Add(tx.Amount)
		acc.UpdatedAt = tx.CreatedAt
		pipe.RPush(ctx, r.transactionsKey(tx.AccountID), payload)
	})
}

func (r *RedisStore) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	items, err := r.client.LRange(ctx, r.transactionsKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, storage.Wrap(backend, "list transactions", err)
	}

	txs := make([]models.Transaction, 0, len(items))
	for _, item := range items {
		var tx models.Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, storage.Wrap(backend, "list transactions", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (r *RedisStore) GetSession(ctx context.Context, userID int64) (models.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

// SaveSession stores the session without expiry; abandoned flows linger
// until the user starts another one.
func (r *RedisStore) SaveSession(ctx context.Context, session models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return storage.Wrap(backend, "save session", err)
	}
	return storage.Wrap(backend, "save session", r.client.Set(ctx, r.sessionKey(session.UserID), payload, 0).Err())
}

func (r *RedisStore) DeleteSession(ctx context.Context, userID int64) error {
	return storage.Wrap(backend, "delete session", r.client.Del(ctx, r.sessionKey(userID)).Err())
}

var (
	_ interfaces.LedgerStore  = (*RedisStore)(nil)
	_ interfaces.SessionStore = (*RedisStore)(nil)
)
