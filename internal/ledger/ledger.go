package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/models/events"
)

// Ledger is the entry point for every account and transaction change.
// It holds a reference to the storage layer and a mutex per account so that
// balance updates for one account are applied one at a time in this process.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	now       func() time.Time

	// events are published in order by one background goroutine, each on its
	// own deadline, so a slow broker never holds up a committed change.
	publishTimeout time.Duration
	queue          chan events.TransactionRecorded
	queueMu        sync.Mutex
	closed         bool
	done           chan struct{}

	muMap map[string]*sync.Mutex // per-account locks
	mapMu sync.Mutex             // protects muMap itself
}

const (
	defaultPublishTimeout = 5 * time.Second
	eventQueueSize        = 256
)

type Option func(*Ledger)

// WithPublisher makes the ledger announce every recorded transaction.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithPublishTimeout bounds each publish attempt. Non-positive values keep
// the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.publishTimeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		logger:         zap.NewNop(),
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
		muMap:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.publisher != nil {
		l.queue = make(chan events.TransactionRecorded, eventQueueSize)
		l.done = make(chan struct{})
		go l.runPublisher()
	}
	return l
}

// Close stops accepting events and waits until the queued ones have been
// published or have timed out. It is safe to call more than once.
func (l *Ledger) Close() {
	if l.queue == nil {
		return
	}
	l.queueMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.queueMu.Unlock()
	<-l.done
}

func (l *Ledger) getAccountLock(accountID string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

// ListAccounts returns all accounts in creation order.
func (l *Ledger) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return l.store.ListAccounts(ctx)
}

func (l *Ledger) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return l.store.GetAccount(ctx, id)
}

// CreateAccount opens a new account with a zero balance.
func (l *Ledger) CreateAccount(ctx context.Context, name string) (models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Account{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	now := l.now().UTC()
	acc := models.Account{
		ID:        ulid.Make().String(),
		Name:      name,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateAccount(ctx, acc); err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}

	l.logger.Info("account created", zap.String("account_id", acc.ID))
	return acc, nil
}

// EditAccount renames an account. Balance, id and history are untouched.
// An unknown id yields storage.ErrAccountNotFound.
func (l *Ledger) EditAccount(ctx context.Context, id, newName string) (models.Account, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.Account{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	mu := l.getAccountLock(id)
	mu.Lock()
	defer mu.Unlock()

	acc, err := l.store.RenameAccount(ctx, id, newName, l.now().UTC())
	if err != nil {
		return models.Account{}, fmt.Errorf("rename account %s: %w", id, err)
	}

	l.logger.Info("account renamed", zap.String("account_id", id))
	return acc, nil
}

// AddTransaction records amount against the account and returns the account
// with its new balance. Zero amounts are accepted.
func (l *Ledger) AddTransaction(ctx context.Context, accountID string, amount decimal.Decimal, description string) (models.Transaction, models.Account, error) {
	tx := models.Transaction{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		CreatedAt:   l.now().UTC(),
	}

	mu := l.getAccountLock(accountID)
	mu.Lock()
	acc, err := l.store.AppendTransaction(ctx, tx)
	mu.Unlock()
	if err != nil {
		return models.Transaction{}, models.Account{}, fmt.Errorf("add transaction to %s: %w", accountID, err)
	}

	l.logger.Info("transaction recorded",
		zap.String("account_id", accountID),
		zap.String("transaction_id", tx.ID),
		zap.Stringer("amount", tx.Amount),
	)
	l.publish(tx, acc)
	return tx, acc, nil
}

// publish queues a committed transaction for announcement. The ledger is
// already updated, so a full queue or a failed publish is only logged.
func (l *Ledger) publish(tx models.Transaction, acc models.Account) {
	if l.queue == nil {
		return
	}

	event := events.TransactionRecorded{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Description:   tx.Description,
		Balance:       acc.Balance,
		OccurredAt:    tx.CreatedAt,
	}

	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if l.closed {
		l.logger.Warn("ledger closed, dropping transaction event", zap.String("transaction_id", tx.ID))
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("event queue full, dropping transaction event", zap.String("transaction_id", tx.ID))
	}
}

func (l *Ledger) runPublisher() {
	defer close(l.done)

	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.publishTimeout)
		err := l.publisher.Publish(ctx, event.AccountID, event)
		cancel()
		if err != nil {
			l.logger.Warn("failed to publish transaction event",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
		}
	}
}

// Transactions returns the history of one account, oldest first.
func (l *Ledger) Transactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	return l.store.ListTransactions(ctx, accountID)
}

// TotalBalance sums the balances of all accounts.
func (l *Ledger) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return models.TotalBalance(accounts), nil
}
