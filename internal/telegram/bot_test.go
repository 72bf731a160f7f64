package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seezam/finbot/internal/ledger"
	"github.com/seezam/finbot/internal/metrics"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
	"github.com/seezam/finbot/internal/storage/memory"
)

const ownerID int64 = 42

type sentMessage struct {
	chatID   any
	text     string
	keyboard *tgmodels.InlineKeyboardMarkup
	edited   bool
}

type fakeMessenger struct {
	mu       sync.Mutex
	messages []sentMessage
	answered []string

	// hook runs before every send or edit when set.
	hook func(ctx context.Context) error
}

func markup(m tgmodels.ReplyMarkup) *tgmodels.InlineKeyboardMarkup {
	kb, _ := m.(*tgmodels.InlineKeyboardMarkup)
	return kb
}

func (f *fakeMessenger) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error) {
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID: params.ChatID, text: params.Text, keyboard: markup(params.ReplyMarkup)})
	return &tgmodels.Message{}, nil
}

func (f *fakeMessenger) EditMessageText(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error) {
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID: params.ChatID, text: params.Text, keyboard: markup(params.ReplyMarkup), edited: true})
	return &tgmodels.Message{}, nil
}

func (f *fakeMessenger) AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, params.CallbackQueryID)
	return true, nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages, "no reply was sent")
	return f.messages[len(f.messages)-1]
}

// callbackData flattens every button payload of a keyboard.
func callbackData(kb *tgmodels.InlineKeyboardMarkup) []string {
	if kb == nil {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			out = append(out, btn.CallbackData)
		}
	}
	return out
}

func textUpdate(userID int64, text string) *tgmodels.Update {
	return &tgmodels.Update{
		ID: 1,
		Message: &tgmodels.Message{
			ID:   10,
			From: &tgmodels.User{ID: userID},
			Chat: tgmodels.Chat{ID: userID},
			Text: text,
		},
	}
}

func callbackUpdate(userID int64, data string) *tgmodels.Update {
	return &tgmodels.Update{
		ID: 2,
		CallbackQuery: &tgmodels.CallbackQuery{
			ID:   "cb-1",
			From: tgmodels.User{ID: userID},
			Data: data,
			Message: tgmodels.MaybeInaccessibleMessage{
				Message: &tgmodels.Message{ID: 20, Chat: tgmodels.Chat{ID: userID}},
			},
		},
	}
}

type fixture struct {
	store  *memory.MemoryStore
	ledger *ledger.Ledger
	api    *fakeMessenger
	bot    *Bot
	stats  *metrics.Collector
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewMemoryStore()
	l := ledger.NewLedger(store)
	api := &fakeMessenger{}
	stats := metrics.NewCollector("test")
	opts = append([]Option{WithMetrics(stats)}, opts...)
	return &fixture{
		store:  store,
		ledger: l,
		api:    api,
		bot:    NewBot(l, store, api, ownerID, opts...),
		stats:  stats,
	}
}

func (f *fixture) session(t *testing.T) (models.Session, bool) {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), ownerID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return models.Session{}, false
	}
	require.NoError(t, err)
	return s, true
}

func TestFromUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update *tgmodels.Update
		ok     bool
		want   Interaction
	}{
		{name: "nil", update: nil},
		{name: "no message or callback", update: &tgmodels.Update{ID: 3}},
		{
			name:   "message without text",
			update: &tgmodels.Update{Message: &tgmodels.Message{From: &tgmodels.User{ID: 1}}},
		},
		{
			name:   "text message",
			update: textUpdate(7, "hello"),
			ok:     true,
			want:   Interaction{UpdateID: 1, UserID: 7, ChatID: 7, MessageID: 10, Text: "hello"},
		},
		{
			name:   "text without sender",
			update: &tgmodels.Update{Message: &tgmodels.Message{Chat: tgmodels.Chat{ID: 9}, Text: "hi"}},
			ok:     true,
			want:   Interaction{ChatID: 9, Text: "hi"},
		},
		{
			name:   "callback",
			update: callbackUpdate(7, "back"),
			ok:     true,
			want:   Interaction{UpdateID: 2, UserID: 7, ChatID: 7, MessageID: 20, CallbackID: "cb-1", Data: "back"},
		},
		{
			name: "callback on inaccessible message",
			update: &tgmodels.Update{CallbackQuery: &tgmodels.CallbackQuery{
				ID:   "cb",
				From: tgmodels.User{ID: 7},
				Data: "x",
				Message: tgmodels.MaybeInaccessibleMessage{
					InaccessibleMessage: &tgmodels.InaccessibleMessage{Chat: tgmodels.Chat{ID: 8}, MessageID: 5},
				},
			}},
			ok:   true,
			want: Interaction{UserID: 7, ChatID: 8, MessageID: 5, CallbackID: "cb", Data: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromUpdate(tt.update)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBot_UnauthorizedSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updates := []*tgmodels.Update{
		textUpdate(999, "/start"),
		textUpdate(999, "Cash"),
		callbackUpdate(999, dataCreateAccount),
		callbackUpdate(999, dataAddTransaction),
		textUpdate(0, "no sender"),
	}
	for _, u := range updates {
		assert.ErrorIs(t, f.bot.Process(ctx, u), ErrUnauthorized)
	}

	assert.Zero(t, f.api.count())
	assert.Empty(t, f.api.answered)

	accounts, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	for _, id := range []int64{999, 0} {
		_, err := f.store.GetSession(ctx, id)
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(f.stats.Interactions.WithLabelValues("message", metrics.OutcomeUnauthorized)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.stats.Interactions.WithLabelValues("callback", metrics.OutcomeUnauthorized)))
}

func TestBot_StartShowsMenu(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataCreateAccount)))
	_, ok := f.session(t)
	require.True(t, ok)

	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "/start")))
	_, ok = f.session(t)
	assert.False(t, ok, "/start clears the pending session")

	msg := f.api.last(t)
	assert.False(t, msg.edited)
	assert.Equal(t, ownerID, msg.chatID)
	assert.Equal(t, textMenu, msg.text)
	assert.Equal(t, []string{dataCreateAccount, dataListAccounts, dataAddTransaction, dataTotalBalance}, callbackData(msg.keyboard))
}

func TestBot_TextWithoutSessionShowsMenu(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.bot.Process(context.Background(), textUpdate(ownerID, "hello")))
	assert.Equal(t, textMenu, f.api.last(t).text)
}

func TestBot_CreateAccountFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataCreateAccount)))
	assert.Equal(t, []string{"cb-1"}, f.api.answered)
	msg := f.api.last(t)
	assert.True(t, msg.edited)
	assert.Equal(t, textEnterName, msg.text)

	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, models.ActionCreateAccount, s.Action)

	t.Run("empty name re-prompts and keeps the session", func(t *testing.T) {
		var verr *ledger.ValidationError
		assert.ErrorAs(t, f.bot.Process(ctx, textUpdate(ownerID, "   ")), &verr)
		assert.Equal(t, textEmptyName, f.api.last(t).text)
		_, ok := f.session(t)
		assert.True(t, ok)
	})

	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "Cash")))
	assert.Contains(t, f.api.last(t).text, "'Cash' created")
	_, ok = f.session(t)
	assert.False(t, ok)

	accounts, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Cash", accounts[0].Name)
	assert.True(t, accounts[0].Balance.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.stats.LedgerMutations.WithLabelValues("account_created")))
}

func TestBot_TransactionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.ledger.CreateAccount(ctx, "Cash")
	require.NoError(t, err)

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataAddTransaction)))
	picker := f.api.last(t)
	assert.Equal(t, textChooseAccount, picker.text)
	assert.Equal(t, []string{prefixSelect + acc.ID, dataBack}, callbackData(picker.keyboard))
	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, models.ActionAddTransaction, s.Action)

	t.Run("text before picking an account is a reminder", func(t *testing.T) {
		require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "150 groceries")))
		assert.Equal(t, textUseButtons, f.api.last(t).text)
		s, ok := f.session(t)
		require.True(t, ok)
		assert.Equal(t, models.ActionAddTransaction, s.Action)
	})

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, prefixSelect+acc.ID)))
	s, ok = f.session(t)
	require.True(t, ok)
	assert.Equal(t, models.ActionEnterTransaction, s.Action)
	assert.Equal(t, acc.ID, s.SelectedAccountID)

	t.Run("invalid entry keeps the session", func(t *testing.T) {
		var verr *ledger.ValidationError
		assert.ErrorAs(t, f.bot.Process(ctx, textUpdate(ownerID, "abc")), &verr)

		msg := f.api.last(t)
		assert.Equal(t, textInvalidEntry, msg.text)
		assert.Equal(t, []string{dataBack}, callbackData(msg.keyboard))

		s, ok := f.session(t)
		require.True(t, ok)
		assert.Equal(t, models.ActionEnterTransaction, s.Action)

		history, err := f.ledger.Transactions(ctx, acc.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "150 groceries")))
	msg := f.api.last(t)
	assert.Contains(t, msg.text, "⬆️")
	assert.Contains(t, msg.text, "+150.00 (groceries)")
	assert.Contains(t, msg.text, "Cash balance: 150.00")

	_, ok = f.session(t)
	assert.False(t, ok)

	history, err := f.ledger.Transactions(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "groceries", history[0].Description)
	assert.True(t, decimal.NewFromInt(150).Equal(history[0].Amount))
}

func TestBot_CashScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []*tgmodels.Update{
		callbackUpdate(ownerID, dataCreateAccount),
		textUpdate(ownerID, "Cash"),
	}
	for _, u := range steps {
		require.NoError(t, f.bot.Process(ctx, u))
	}

	accounts, err := f.ledger.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	cash := accounts[0]

	for _, entry := range []string{"1000 salary", "-200 rent"} {
		require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataAddTransaction)))
		require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, prefixSelect+cash.ID)))
		require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, entry)))
	}
	assert.Contains(t, f.api.last(t).text, "⬇️ Expense recorded: -200.00 (rent)")

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataListAccounts)))
	list := f.api.last(t)
	assert.Contains(t, list.text, "• Cash: 800.00")
	assert.Equal(t, []string{prefixEdit + cash.ID, dataBack}, callbackData(list.keyboard))

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataTotalBalance)))
	assert.Equal(t, "📊 Total balance: 800.00", f.api.last(t).text)
}

func TestBot_ZeroAmountIsNeutral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.ledger.CreateAccount(ctx, "Cash")
	require.NoError(t, err)
	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, prefixSelect+acc.ID)))
	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "0")))

	msg := f.api.last(t).text
	assert.Contains(t, msg, "➖ Transaction recorded: 0.00")
	assert.NotContains(t, msg, "(")
}

func TestBot_EditAccountFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.ledger.CreateAccount(ctx, "Cash")
	require.NoError(t, err)
	_, _, err = f.ledger.AddTransaction(ctx, acc.ID, decimal.NewFromInt(75), "")
	require.NoError(t, err)

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, prefixEdit+acc.ID)))
	assert.Equal(t, "Enter a new name for 'Cash':", f.api.last(t).text)
	s, ok := f.session(t)
	require.True(t, ok)
	assert.Equal(t, models.ActionEditAccount, s.Action)
	assert.Equal(t, acc.ID, s.EditAccountID)

	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, "  Wallet ")))
	assert.Contains(t, f.api.last(t).text, "renamed to 'Wallet'")
	_, ok = f.session(t)
	assert.False(t, ok)

	got, err := f.ledger.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wallet", got.Name)
	assert.True(t, decimal.NewFromInt(75).Equal(got.Balance))
}

func TestBot_NoAccounts(t *testing.T) {
	for _, data := range []string{dataListAccounts, dataAddTransaction} {
		t.Run(data, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.bot.Process(context.Background(), callbackUpdate(ownerID, data)))

			msg := f.api.last(t)
			assert.Equal(t, textNoAccounts, msg.text)
			assert.Equal(t, []string{dataCreateAccount, dataBack}, callbackData(msg.keyboard))
			_, ok := f.session(t)
			assert.False(t, ok)
		})
	}
}

func TestBot_MissingAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("selecting an unknown account", func(t *testing.T) {
		f := newFixture(t)
		err := f.bot.Process(ctx, callbackUpdate(ownerID, prefixSelect+"ghost"))
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
		assert.Equal(t, textAccountGone, f.api.last(t).text)
		_, ok := f.session(t)
		assert.False(t, ok)
	})

	t.Run("stale session is cleared", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SaveSession(ctx, models.Session{
			UserID:            ownerID,
			Action:            models.ActionEnterTransaction,
			SelectedAccountID: "ghost",
		}))

		err := f.bot.Process(ctx, textUpdate(ownerID, "5 coffee"))
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
		assert.Equal(t, textAccountGone, f.api.last(t).text)
		_, ok := f.session(t)
		assert.False(t, ok)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.stats.Interactions.WithLabelValues("message", metrics.OutcomeNotFound)))
	})

	t.Run("renaming a deleted account", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SaveSession(ctx, models.Session{
			UserID:        ownerID,
			Action:        models.ActionEditAccount,
			EditAccountID: "ghost",
		}))

		err := f.bot.Process(ctx, textUpdate(ownerID, "Wallet"))
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
		_, ok := f.session(t)
		assert.False(t, ok)
	})
}

func TestBot_RoutePrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.ledger.CreateAccount(ctx, "Cash")
	require.NoError(t, err)

	tests := []struct {
		data string
		want string
	}{
		{data: dataTotalBalance, want: "📊 Total balance: 0.00"},
		{data: dataBack, want: textMenu},
		{data: "unknown", want: textMenu},
		{data: "", want: textMenu},
		{data: prefixEdit, want: textMenu},
		{data: prefixSelect, want: textMenu},
		{data: prefixEdit + acc.ID, want: "Enter a new name for 'Cash':"},
		{data: prefixSelect + acc.ID, want: "Account: Cash\nBalance: 0.00\n\n" + textEnterTransaction},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, tt.data)))
			assert.Equal(t, tt.want, f.api.last(t).text)
		})
	}
}

func TestBot_BackClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataCreateAccount)))
	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataBack)))

	_, ok := f.session(t)
	assert.False(t, ok)
	assert.Equal(t, textMenu, f.api.last(t).text)
}

func TestBot_IgnoresUpdatesWithoutInteraction(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.bot.Process(context.Background(), &tgmodels.Update{ID: 5}))
	assert.NoError(t, f.bot.Process(context.Background(), nil))
	assert.Zero(t, f.api.count())
}

type failingSessions struct{}

func (failingSessions) GetSession(context.Context, int64) (models.Session, error) {
	return models.Session{}, storage.Wrap("test", "get session", errors.New("connection refused"))
}

func (failingSessions) SaveSession(context.Context, models.Session) error {
	return storage.Wrap("test", "save session", errors.New("connection refused"))
}

func (failingSessions) DeleteSession(context.Context, int64) error {
	return storage.Wrap("test", "delete session", errors.New("connection refused"))
}

func TestBot_StorageFailure(t *testing.T) {
	api := &fakeMessenger{}
	stats := metrics.NewCollector("test")
	bot := NewBot(ledger.NewLedger(memory.NewMemoryStore()), failingSessions{}, api, ownerID, WithMetrics(stats))

	err := bot.Process(context.Background(), textUpdate(ownerID, "Cash"))
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))
	assert.Equal(t, textSomethingWrong, api.last(t).text)
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.Interactions.WithLabelValues("message", metrics.OutcomeError)))
}

func TestBot_Timeout(t *testing.T) {
	f := newFixture(t, WithTimeout(20*time.Millisecond))
	f.api.hook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	err := f.bot.Process(context.Background(), textUpdate(ownerID, "/start"))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.stats.Interactions.WithLabelValues("message", metrics.OutcomeTimeout)))
}

func TestBot_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	var once sync.Once
	f.api.hook = func(context.Context) error {
		once.Do(func() { panic("boom") })
		return nil
	}

	var err error
	require.NotPanics(t, func() {
		err = f.bot.Process(context.Background(), textUpdate(ownerID, "hello"))
	})
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, textSomethingWrong, f.api.last(t).text)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.stats.Interactions.WithLabelValues("message", metrics.OutcomePanic)))
}

func TestIsCommand(t *testing.T) {
	assert.True(t, isCommand("/start", "start"))
	assert.True(t, isCommand("/start@finbot", "start"))
	assert.True(t, isCommand("/menu now", "menu"))
	assert.False(t, isCommand("start", "start"))
	assert.False(t, isCommand("/starter", "start"))
}

func TestBot_AccountNamesShownVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataCreateAccount)))
	require.NoError(t, f.bot.Process(ctx, textUpdate(ownerID, `My "cash"`)))
	assert.Equal(t, `✅ Account 'My "cash"' created.`, f.api.last(t).text)
}

// slowAckStore commits the first transaction but only reports back once the
// caller's context has ended, like a database whose reply is delayed.
type slowAckStore struct {
	*memory.MemoryStore
	stalled atomic.Bool
}

func (s *slowAckStore) AppendTransaction(ctx context.Context, tx models.Transaction) (models.Account, error) {
	acc, err := s.MemoryStore.AppendTransaction(ctx, tx)
	if s.stalled.CompareAndSwap(false, true) {
		<-ctx.Done()
	}
	return acc, err
}

// ctxSessions fails like a network store once the context is done.
type ctxSessions struct {
	*memory.MemoryStore
}

func (s ctxSessions) DeleteSession(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.DeleteSession(ctx, userID)
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, key string, event any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBot_TimedOutTransactionIsNotRecordedTwice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	l := ledger.NewLedger(&slowAckStore{MemoryStore: store},
		ledger.WithPublisher(stalledPublisher{}),
		ledger.WithPublishTimeout(20*time.Millisecond),
	)
	t.Cleanup(l.Close)

	api := &fakeMessenger{hook: func(ctx context.Context) error { return ctx.Err() }}
	bot := NewBot(l, ctxSessions{store}, api, ownerID,
		WithTimeout(50*time.Millisecond),
		WithMetrics(metrics.NewCollector("test")),
	)

	acc, err := l.CreateAccount(ctx, "Cash")
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, models.Session{
		UserID:            ownerID,
		Action:            models.ActionEnterTransaction,
		SelectedAccountID: acc.ID,
	}))

	err = bot.Process(ctx, textUpdate(ownerID, "150 groceries"))
	assert.ErrorIs(t, err, ErrTimeout)

	require.Eventually(t, func() bool {
		_, err := store.GetSession(ctx, ownerID)
		return errors.Is(err, storage.ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond, "session must be cleared once the transaction is committed")

	// Without a confirmation the user sends the amount again.
	require.NoError(t, bot.Process(ctx, textUpdate(ownerID, "150 groceries")))
	assert.Equal(t, textMenu, api.last(t).text)

	history, err := l.Transactions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	got, err := l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(got.Balance), "balance %s", got.Balance)
}

func TestBot_LongAccountListFitsOneMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 200
	for i := range n {
		_, err := f.ledger.CreateAccount(ctx, fmt.Sprintf("Savings account number %03d %s", i, strings.Repeat("x", 20)))
		require.NoError(t, err)
	}

	require.NoError(t, f.bot.Process(ctx, callbackUpdate(ownerID, dataListAccounts)))
	msg := f.api.last(t)
	assert.LessOrEqual(t, textLength(msg.text), maxMessageLength)
	assert.Contains(t, msg.text, "more\n")
	assert.True(t, strings.HasSuffix(msg.text, textListEditHint))
	assert.Len(t, callbackData(msg.keyboard), n+1)
}

func TestClip(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, clip(short))

	exact := strings.Repeat("a", maxMessageLength)
	assert.Equal(t, exact, clip(exact))

	// Each emoji is two UTF-16 code units.
	long := strings.Repeat("💰", maxMessageLength)
	clipped := clip(long)
	assert.LessOrEqual(t, textLength(clipped), maxMessageLength)
	assert.True(t, strings.HasSuffix(clipped, "…"))
	assert.True(t, strings.HasPrefix(clipped, "💰💰"))
}
