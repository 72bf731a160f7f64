package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/ledger"
	"github.com/seezam/finbot/internal/metrics"
	"github.com/seezam/finbot/internal/storage"
)

var (
	// ErrUnauthorized marks an update from anyone but the allowed user.
	ErrUnauthorized = errors.New("unauthorized sender")
	// ErrTimeout is returned when an interaction outlives its budget.
	ErrTimeout = errors.New("interaction timed out")
	// ErrPanic wraps a recovered handler panic.
	ErrPanic = errors.New("interaction panicked")
)

const (
	defaultTimeout = 10 * time.Second
	apologyTimeout = 5 * time.Second
	cleanupTimeout = 5 * time.Second
)

// Bot turns webhook updates into ledger operations and chat replies for a
// single authorized user.
type Bot struct {
	ledger        *ledger.Ledger
	sessions      interfaces.SessionStore
	api           Messenger
	allowedUserID int64

	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	exact    map[string]handlerFunc
	prefixes []prefixRoute
}

type Option func(*Bot)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bot) { b.metrics = c }
}

// WithTimeout bounds every interaction. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

func NewBot(l *ledger.Ledger, sessions interfaces.SessionStore, api Messenger, allowedUserID int64, opts ...Option) *Bot {
	b := &Bot{
		ledger:        l,
		sessions:      sessions,
		api:           api,
		allowedUserID: allowedUserID,
		timeout:       defaultTimeout,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = metrics.NewCollector("finbot")
	}
	b.registerRoutes()
	return b
}

// Process handles one update end to end. It never panics: handler panics are
// recovered and reported as ErrPanic, and an interaction running past the
// timeout returns ErrTimeout while its handler is cancelled.
func (b *Bot) Process(ctx context.Context, update *tgmodels.Update) (err error) {
	start := time.Now()

	in, ok := FromUpdate(update)
	if !ok {
		b.metrics.ObserveInteraction("other", metrics.OutcomeIgnored, time.Since(start))
		return nil
	}

	if in.UserID != b.allowedUserID {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("user_id", in.UserID),
			zap.Int64("update_id", in.UpdateID),
		)
		b.metrics.ObserveInteraction(in.Kind(), metrics.OutcomeUnauthorized, time.Since(start))
		return ErrUnauthorized
	}

	defer func() {
		b.metrics.ObserveInteraction(in.Kind(), outcome(err), time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		done <- b.dispatch(ctx, in)
	}()

	select {
	case err = <-done:
		// A handler that gave up because the deadline passed still timed out.
		if err != nil && !errors.Is(err, ErrPanic) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
	case <-ctx.Done():
		err = ErrTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			err = ctx.Err()
		}
	}

	switch {
	case errors.Is(err, ErrPanic):
		b.logger.Error("interaction panicked", zap.Int64("update_id", in.UpdateID), zap.Error(err))
		b.apologize(ctx, in)
	case errors.Is(err, ErrTimeout):
		b.logger.Warn("interaction timed out",
			zap.Int64("update_id", in.UpdateID),
			zap.Duration("timeout", b.timeout),
		)
	}
	return err
}

// dispatch answers the callback, routes the interaction and sends the reply.
// Handler errors are turned into the matching reply and returned.
func (b *Bot) dispatch(ctx context.Context, in Interaction) error {
	if in.IsCallback() {
		if _, err := b.api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: in.CallbackID}); err != nil {
			b.logger.Warn("failed to answer callback query", zap.String("callback_id", in.CallbackID), zap.Error(err))
		}
	}

	var (
		r   reply
		err error
	)
	if in.IsCallback() {
		r, err = b.handleCallback(ctx, in)
	} else {
		r, err = b.handleText(ctx, in)
	}
	if err != nil {
		r = b.replyForError(ctx, in, err)
	}

	if sendErr := b.respond(ctx, in, r); sendErr != nil {
		b.logger.Error("failed to send reply", zap.Int64("chat_id", in.ChatID), zap.Error(sendErr))
		if err == nil {
			err = sendErr
		}
	}
	return err
}

// replyForError maps a handler error to what the user sees. Validation errors
// keep the session so the user can retry; a vanished account clears it.
func (b *Bot) replyForError(ctx context.Context, in Interaction, err error) reply {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "name" {
			return reply{text: textEmptyName, keyboard: cancelKeyboard()}
		}
		return reply{text: textInvalidEntry, keyboard: cancelKeyboard()}
	case errors.Is(err, storage.ErrAccountNotFound):
		b.clearSession(ctx, in.UserID)
		return reply{text: textAccountGone, keyboard: mainMenuKeyboard()}
	default:
		b.logger.Error("interaction failed",
			zap.Int64("update_id", in.UpdateID),
			zap.String("kind", in.Kind()),
			zap.Bool("storage", storage.IsStorageError(err)),
			zap.Error(err),
		)
		return reply{text: textSomethingWrong, keyboard: mainMenuKeyboard()}
	}
}

func (b *Bot) respond(ctx context.Context, in Interaction, r reply) error {
	if in.IsCallback() && in.MessageID != 0 {
		params := &tgbot.EditMessageTextParams{
			ChatID:    in.ChatID,
			MessageID: in.MessageID,
			Text:      clip(r.text),
		}
		if r.keyboard != nil {
			params.ReplyMarkup = r.keyboard
		}
		_, err := b.api.EditMessageText(ctx, params)
		if err == nil {
			return nil
		}
		// Old or deleted messages cannot be edited; fall back to a new one.
		b.logger.Debug("edit failed, sending new message", zap.Error(err))
	}

	params := &tgbot.SendMessageParams{
		ChatID: in.ChatID,
		Text:   clip(r.text),
	}
	if r.keyboard != nil {
		params.ReplyMarkup = r.keyboard
	}
	_, err := b.api.SendMessage(ctx, params)
	return err
}

// apologize is best effort and runs after the interaction context may have
// expired, so it gets its own short deadline.
func (b *Bot) apologize(ctx context.Context, in Interaction) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("apology panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()

	if _, err := b.api.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: in.ChatID, Text: textSomethingWrong}); err != nil {
		b.logger.Warn("failed to send apology", zap.Error(err))
	}
}

// clearSession follows committed ledger changes, so it runs on its own
// deadline and still happens after the interaction has timed out.
func (b *Bot) clearSession(ctx context.Context, userID int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := b.sessions.DeleteSession(ctx, userID); err != nil {
		b.logger.Warn("failed to delete session", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func outcome(err error) string {
	var verr *ledger.ValidationError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &verr):
		return metrics.OutcomeValidation
	case errors.Is(err, storage.ErrAccountNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrPanic):
		return metrics.OutcomePanic
	default:
		return metrics.OutcomeError
	}
}
