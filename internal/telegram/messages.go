package telegram

import (
	"fmt"
	"strings"
	"unicode/utf16"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/seezam/finbot/internal/models"
)

// Callback payloads.
const (
	dataCreateAccount  = "create_account"
	dataListAccounts   = "list_accounts"
	dataAddTransaction = "add_transaction"
	dataTotalBalance   = "total_balance"
	dataBack           = "back"

	prefixEdit   = "edit_"
	prefixSelect = "select_acc_"
)

const (
	textMenu             = "💰 Personal finance\n\nChoose an action:"
	textEnterName        = "Enter a name for the new account:"
	textEmptyName        = "The account name cannot be empty. Please send a name:"
	textNoAccounts       = "You don't have any accounts yet. Create one first."
	textChooseAccount    = "Choose an account for the transaction:"
	textUseButtons       = "Please choose an account using the buttons above."
	textInvalidEntry     = "Invalid format. Send an amount and an optional description, for example:\n150 groceries\n-200 rent"
	textAccountGone      = "This account no longer exists."
	textSomethingWrong   = "Something went wrong. Please try again."
	textListEditHint     = "Tap an account to rename it."
	textEnterTransaction = "Send the amount and an optional description.\nPositive for income, negative for expense, e.g. 150 groceries or -200 rent."
	buttonCreateAccount  = "➕ Create account"
	buttonListAccounts   = "📋 List accounts"
	buttonAddTransaction = "💸 Add transaction"
	buttonTotalBalance   = "📊 Total balance"
	buttonBack           = "⬅️ Back"
	buttonCancel         = "✖️ Cancel"
)

// reply is what an interaction answers with. Callbacks edit the pressed
// message, text input gets a new message.
type reply struct {
	text     string
	keyboard *tgmodels.InlineKeyboardMarkup
}

func button(text, data string) tgmodels.InlineKeyboardButton {
	return tgmodels.InlineKeyboardButton{Text: text, CallbackData: data}
}

func keyboard(rows ...[]tgmodels.InlineKeyboardButton) *tgmodels.InlineKeyboardMarkup {
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func mainMenuKeyboard() *tgmodels.InlineKeyboardMarkup {
	return keyboard(
		[]tgmodels.InlineKeyboardButton{button(buttonCreateAccount, dataCreateAccount)},
		[]tgmodels.InlineKeyboardButton{button(buttonListAccounts, dataListAccounts)},
		[]tgmodels.InlineKeyboardButton{button(buttonAddTransaction, dataAddTransaction)},
		[]tgmodels.InlineKeyboardButton{button(buttonTotalBalance, dataTotalBalance)},
	)
}

func backKeyboard() *tgmodels.InlineKeyboardMarkup {
	return keyboard([]tgmodels.InlineKeyboardButton{button(buttonBack, dataBack)})
}

func cancelKeyboard() *tgmodels.InlineKeyboardMarkup {
	return keyboard([]tgmodels.InlineKeyboardButton{button(buttonCancel, dataBack)})
}

func menuReply() reply {
	return reply{text: textMenu, keyboard: mainMenuKeyboard()}
}

func noAccountsReply() reply {
	return reply{
		text: textNoAccounts,
		keyboard: keyboard(
			[]tgmodels.InlineKeyboardButton{button(buttonCreateAccount, dataCreateAccount)},
			[]tgmodels.InlineKeyboardButton{button(buttonBack, dataBack)},
		),
	}
}

// Telegram limits message text to 4096 UTF-16 code units.
const (
	maxMessageLength = 4096
	moreReserve      = 32
)

func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// clip cuts text to the message limit on a rune boundary.
func clip(text string) string {
	if textLength(text) <= maxMessageLength {
		return text
	}
	const ellipsis = "…"
	budget := maxMessageLength - textLength(ellipsis)
	for i, r := range text {
		if budget -= utf16.RuneLen(r); budget < 0 {
			return text[:i] + ellipsis
		}
	}
	return text
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func signedMoney(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + money(d)
	}
	return money(d)
}

// accountListReply lists every account that fits in one message and
// summarises the rest; each account still gets its rename button.
func accountListReply(accounts []models.Account) reply {
	const header = "📋 Your accounts:\n\n"
	footer := "\n" + textListEditHint

	var b strings.Builder
	b.WriteString(header)
	budget := maxMessageLength - textLength(header) - textLength(footer) - moreReserve
	for i, acc := range accounts {
		line := fmt.Sprintf("• %s: %s\n", acc.Name, money(acc.Balance))
		n := textLength(line)
		if n > budget {
			fmt.Fprintf(&b, "… and %d more\n", len(accounts)-i)
			break
		}
		budget -= n
		b.WriteString(line)
	}
	b.WriteString(footer)

	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(accounts)+1)
	for _, acc := range accounts {
		rows = append(rows, []tgmodels.InlineKeyboardButton{button("✏️ "+acc.Name, prefixEdit+acc.ID)})
	}
	rows = append(rows, []tgmodels.InlineKeyboardButton{button(buttonBack, dataBack)})
	return reply{text: b.String(), keyboard: keyboard(rows...)}
}

func accountPickerReply(accounts []models.Account) reply {
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(accounts)+1)
	for _, acc := range accounts {
		label := fmt.Sprintf("%s (%s)", acc.Name, money(acc.Balance))
		rows = append(rows, []tgmodels.InlineKeyboardButton{button(label, prefixSelect+acc.ID)})
	}
	rows = append(rows, []tgmodels.InlineKeyboardButton{button(buttonBack, dataBack)})
	return reply{text: textChooseAccount, keyboard: keyboard(rows...)}
}

func totalBalanceReply(total decimal.Decimal) reply {
	return reply{text: "📊 Total balance: " + money(total), keyboard: backKeyboard()}
}

func renamePromptReply(acc models.Account) reply {
	return reply{
		text:     fmt.Sprintf("Enter a new name for '%s':", acc.Name),
		keyboard: cancelKeyboard(),
	}
}

func entryPromptReply(acc models.Account) reply {
	return reply{
		text:     fmt.Sprintf("Account: %s\nBalance: %s\n\n%s", acc.Name, money(acc.Balance), textEnterTransaction),
		keyboard: cancelKeyboard(),
	}
}

func accountCreatedReply(acc models.Account) reply {
	return reply{text: fmt.Sprintf("✅ Account '%s' created.", acc.Name), keyboard: mainMenuKeyboard()}
}

func accountRenamedReply(acc models.Account) reply {
	return reply{text: fmt.Sprintf("✅ Account renamed to '%s'.", acc.Name), keyboard: mainMenuKeyboard()}
}

// transactionReply confirms a recorded transaction: up arrow for income, down
// arrow for expense, a neutral mark for zero.
func transactionReply(tx models.Transaction, acc models.Account) reply {
	indicator, kind := "➖", "Transaction"
	switch {
	case tx.IsIncome():
		indicator, kind = "⬆️", "Income"
	case tx.IsExpense():
		indicator, kind = "⬇️", "Expense"
	}

	text := fmt.Sprintf("%s %s recorded: %s", indicator, kind, signedMoney(tx.Amount))
	if tx.Description != "" {
		text += " (" + tx.Description + ")"
	}
	text += fmt.Sprintf("\n%s balance: %s", acc.Name, money(acc.Balance))
	return reply{text: text, keyboard: mainMenuKeyboard()}
}
