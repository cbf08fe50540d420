package telegram

import (
	"encoding/json"
	"strconv"

	"dental-bot/internal/dialogue"
)

// APIResponse Bot API 响应包装
type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// Update is one inbound event from getUpdates. Only messages are requested.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// ConversationID is the dialogue key of a chat.
func (c Chat) ConversationID() string {
	return strconv.FormatInt(c.ID, 10)
}

type KeyboardButton struct {
	Text string `json:"text"`
}

// ReplyMarkup covers both ReplyKeyboardMarkup and ReplyKeyboardRemove.
type ReplyMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard,omitempty"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
	RemoveKeyboard  bool               `json:"remove_keyboard,omitempty"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// MarkupFor renders the keyboard part of a dialogue reply, nil when the reply
// leaves the keyboard alone.
func MarkupFor(r *dialogue.Reply) *ReplyMarkup {
	switch {
	case r.Keyboard != nil:
		rows := make([][]KeyboardButton, 0, len(r.Keyboard.Rows))
		for _, row := range r.Keyboard.Rows {
			buttons := make([]KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, KeyboardButton{Text: label})
			}
			rows = append(rows, buttons)
		}
		return &ReplyMarkup{Keyboard: rows, ResizeKeyboard: true, OneTimeKeyboard: r.Keyboard.OneTime}
	case r.RemoveKeyboard:
		return &ReplyMarkup{RemoveKeyboard: true}
	default:
		return nil
	}
}
