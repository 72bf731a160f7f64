package telegram

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Messenger is the slice of the Bot API the router talks to.
type Messenger interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error)
}

// Compile-time check that the real client satisfies the interface.
var _ Messenger = (*tgbot.Bot)(nil)
