package telegram

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/seezam/finbot/internal/ledger"
	"github.com/seezam/finbot/internal/models"
	"github.com/seezam/finbot/internal/storage"
)

func (b *Bot) saveSession(ctx context.Context, s models.Session) error {
	s.UpdatedAt = b.now().UTC()
	return b.sessions.SaveSession(ctx, s)
}

func (b *Bot) showMenu(ctx context.Context, in Interaction, _ string) (reply, error) {
	return menuReply(), nil
}

func (b *Bot) back(ctx context.Context, in Interaction, _ string) (reply, error) {
	if err := b.sessions.DeleteSession(ctx, in.UserID); err != nil {
		return reply{}, err
	}
	return menuReply(), nil
}

func (b *Bot) promptCreateAccount(ctx context.Context, in Interaction, _ string) (reply, error) {
	if err := b.saveSession(ctx, models.Session{UserID: in.UserID, Action: models.ActionCreateAccount}); err != nil {
		return reply{}, err
	}
	return reply{text: textEnterName, keyboard: cancelKeyboard()}, nil
}

func (b *Bot) listAccounts(ctx context.Context, in Interaction, _ string) (reply, error) {
	accounts, err := b.ledger.ListAccounts(ctx)
	if err != nil {
		return reply{}, err
	}
	if len(accounts) == 0 {
		return noAccountsReply(), nil
	}
	return accountListReply(accounts), nil
}

func (b *Bot) pickAccount(ctx context.Context, in Interaction, _ string) (reply, error) {
	accounts, err := b.ledger.ListAccounts(ctx)
	if err != nil {
		return reply{}, err
	}
	if len(accounts) == 0 {
		return noAccountsReply(), nil
	}
	if err := b.saveSession(ctx, models.Session{UserID: in.UserID, Action: models.ActionAddTransaction}); err != nil {
		return reply{}, err
	}
	return accountPickerReply(accounts), nil
}

func (b *Bot) totalBalance(ctx context.Context, in Interaction, _ string) (reply, error) {
	total, err := b.ledger.TotalBalance(ctx)
	if err != nil {
		return reply{}, err
	}
	return totalBalanceReply(total), nil
}

func (b *Bot) promptRename(ctx context.Context, in Interaction, accountID string) (reply, error) {
	acc, err := b.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return reply{}, err
	}
	s := models.Session{UserID: in.UserID, Action: models.ActionEditAccount, EditAccountID: acc.ID}
	if err := b.saveSession(ctx, s); err != nil {
		return reply{}, err
	}
	return renamePromptReply(acc), nil
}

func (b *Bot) promptEntry(ctx context.Context, in Interaction, accountID string) (reply, error) {
	acc, err := b.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return reply{}, err
	}
	s := models.Session{UserID: in.UserID, Action: models.ActionEnterTransaction, SelectedAccountID: acc.ID}
	if err := b.saveSession(ctx, s); err != nil {
		return reply{}, err
	}
	return entryPromptReply(acc), nil
}

// handleText consumes free text according to the user's pending session.
func (b *Bot) handleText(ctx context.Context, in Interaction) (reply, error) {
	text := strings.TrimSpace(in.Text)
	if isCommand(text, "start") || isCommand(text, "menu") {
		return b.back(ctx, in, "")
	}

	session, err := b.sessions.GetSession(ctx, in.UserID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return menuReply(), nil
	}
	if err != nil {
		return reply{}, err
	}

	switch session.Action {
	case models.ActionCreateAccount:
		acc, err := b.ledger.CreateAccount(ctx, text)
		if err != nil {
			return reply{}, err
		}
		b.metrics.LedgerMutations.WithLabelValues("account_created").Inc()
		b.clearSession(ctx, in.UserID)
		return accountCreatedReply(acc), nil

	case models.ActionEditAccount:
		acc, err := b.ledger.EditAccount(ctx, session.EditAccountID, text)
		if err != nil {
			return reply{}, err
		}
		b.metrics.LedgerMutations.WithLabelValues("account_renamed").Inc()
		b.clearSession(ctx, in.UserID)
		return accountRenamedReply(acc), nil

	case models.ActionAddTransaction:
		return reply{text: textUseButtons, keyboard: backKeyboard()}, nil

	case models.ActionEnterTransaction:
		amount, description, err := ledger.ParseEntry(text)
		if err != nil {
			return reply{}, err
		}
		tx, acc, err := b.ledger.AddTransaction(ctx, session.SelectedAccountID, amount, description)
		if err != nil {
			return reply{}, err
		}
		b.metrics.LedgerMutations.WithLabelValues("transaction_recorded").Inc()
		b.clearSession(ctx, in.UserID)
		return transactionReply(tx, acc), nil

	default:
		b.logger.Warn("dropping session with unknown action",
			zap.Int64("user_id", in.UserID),
			zap.String("action", string(session.Action)),
		)
		b.clearSession(ctx, in.UserID)
		return menuReply(), nil
	}
}

// isCommand matches "/name" and "/name@botname", ignoring any arguments.
func isCommand(text, name string) bool {
	first, _, _ := strings.Cut(text, " ")
	first, _, _ = strings.Cut(first, "@")
	return first == "/"+name
}
