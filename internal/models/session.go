package models

import "time"

// Action names the input a session is waiting for.
type Action string

const (
	ActionCreateAccount    Action = "create_account"
	ActionEditAccount      Action = "edit_account"
	ActionAddTransaction   Action = "add_transaction"
	ActionEnterTransaction Action = "enter_transaction"
)

// Session records what the user is expected to send next.
// There is at most one session per user; no session means "main menu".
type Session struct {
	UserID            int64     `json:"user_id"`
	Action            Action    `json:"action"`
	EditAccountID     string    `json:"edit_account_id,omitempty"`     // set for ActionEditAccount
	SelectedAccountID string    `json:"selected_account_id,omitempty"` // set for ActionEnterTransaction
	UpdatedAt         time.Time `json:"updated_at"`
}
