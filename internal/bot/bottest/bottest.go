// Package bottest provides a recording Sender and update builders for tests.
package bottest

import (
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender records every outbound call.
type Sender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable

	SendErr    error
	RequestErr error
}

func (s *Sender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, c)
	return tgbotapi.Message{MessageID: len(s.sent)}, s.SendErr
}

func (s *Sender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, s.RequestErr
}

func (s *Sender) Sent() []tgbotapi.Chattable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), s.sent...)
}

func (s *Sender) Requests() []tgbotapi.Chattable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), s.requests...)
}

// Texts returns the text of every sent message, edit or document caption.
func (s *Sender) Texts() []string {
	var out []string
	for _, c := range s.Sent() {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		case tgbotapi.DocumentConfig:
			out = append(out, m.Caption)
		}
	}
	return out
}

// LastText returns the most recent text from Texts, or "".
func (s *Sender) LastText() string {
	texts := s.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func User(id int64, name string) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: name, UserName: strings.ToLower(name), LanguageCode: "en"}
}

func Chat(id int64, chatType, title string) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: chatType, Title: title}
}

// Message builds a message update. Text starting with "/" carries a
// bot_command entity like Telegram sends.
func Message(chat *tgbotapi.Chat, from *tgbotapi.User, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      chat,
		From:      from,
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

// Private builds a private-chat message from userID.
func Private(userID int64, text string) tgbotapi.Update {
	return Message(Chat(userID, "private", ""), User(userID, "User"), text)
}

func Callback(chat *tgbotapi.Chat, from *tgbotapi.User, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			From:    from,
			Message: &tgbotapi.Message{MessageID: 10, Chat: chat},
			Data:    data,
		},
	}
}

func ChannelPost(chat *tgbotapi.Chat, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID:    1,
		ChannelPost: &tgbotapi.Message{MessageID: 1, Chat: chat, Text: text},
	}
}

// MyChatMember builds an update reporting the bot's status change in chat.
func MyChatMember(chat *tgbotapi.Chat, from *tgbotapi.User, oldStatus, newStatus string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          *chat,
			From:          *from,
			OldChatMember: tgbotapi.ChatMember{Status: oldStatus},
			NewChatMember: tgbotapi.ChatMember{Status: newStatus},
		},
	}
}
