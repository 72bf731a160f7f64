package telegram

import (
	"context"
	"strings"
)

type handlerFunc func(ctx context.Context, in Interaction, param string) (reply, error)

type prefixRoute struct {
	prefix  string
	handler handlerFunc
}

func (b *Bot) registerRoutes() {
	b.exact = map[string]handlerFunc{
		dataCreateAccount:  b.promptCreateAccount,
		dataListAccounts:   b.listAccounts,
		dataAddTransaction: b.pickAccount,
		dataTotalBalance:   b.totalBalance,
		dataBack:           b.back,
	}
	b.prefixes = []prefixRoute{
		{prefix: prefixEdit, handler: b.promptRename},
		{prefix: prefixSelect, handler: b.promptEntry},
	}
}

// route finds the handler for a callback payload. Exact payloads win over
// prefixes, prefixes are tried in registration order and anything unmatched
// falls back to the main menu.
func (b *Bot) route(data string) (handlerFunc, string) {
	if h, ok := b.exact[data]; ok {
		return h, ""
	}
	for _, r := range b.prefixes {
		if param, ok := strings.CutPrefix(data, r.prefix); ok && param != "" {
			return r.handler, param
		}
	}
	return b.showMenu, ""
}

func (b *Bot) handleCallback(ctx context.Context, in Interaction) (reply, error) {
	h, param := b.route(in.Data)
	return h(ctx, in, param)
}
