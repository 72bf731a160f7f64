package telegram

import tgmodels "github.com/go-telegram/bot/models"

// Interaction is one user action decoded from a webhook update: either a
// text message or an inline button press.
type Interaction struct {
	UpdateID   int64
	UserID     int64
	ChatID     int64
	MessageID  int
	CallbackID string
	Data       string
	Text       string
}

func (in Interaction) IsCallback() bool {
	return in.CallbackID != ""
}

// Kind is the metrics label for the interaction.
func (in Interaction) Kind() string {
	if in.IsCallback() {
		return "callback"
	}
	return "message"
}

// FromUpdate extracts the interaction from u. Updates carrying neither a text
// message nor a callback query are reported as not ok. A missing sender leaves
// UserID at zero, which the access gate never admits.
func FromUpdate(u *tgmodels.Update) (Interaction, bool) {
	if u == nil {
		return Interaction{}, false
	}

	if cq := u.CallbackQuery; cq != nil {
		in := Interaction{
			UpdateID:   u.ID,
			UserID:     cq.From.ID,
			CallbackID: cq.ID,
			Data:       cq.Data,
		}
		switch {
		case cq.Message.Message != nil:
			in.ChatID = cq.Message.Message.Chat.ID
			in.MessageID = cq.Message.Message.ID
		case cq.Message.InaccessibleMessage != nil:
			in.ChatID = cq.Message.InaccessibleMessage.Chat.ID
			in.MessageID = cq.Message.InaccessibleMessage.MessageID
		}
		// Private chats share the user's id.
		if in.ChatID == 0 {
			in.ChatID = in.UserID
		}
		return in, true
	}

	if msg := u.Message; msg != nil && msg.Text != "" {
		in := Interaction{
			UpdateID:  u.ID,
			ChatID:    msg.Chat.ID,
			MessageID: msg.ID,
			Text:      msg.Text,
		}
		if msg.From != nil {
			in.UserID = msg.From.ID
		}
		return in, true
	}

	return Interaction{}, false
}
