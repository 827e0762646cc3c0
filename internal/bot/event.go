package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type EventType string

const (
	EventMessage           EventType = "message"
	EventCommand           EventType = "command"
	EventEditedMessage     EventType = "edited_message"
	EventCallback          EventType = "callback"
	EventChannelPost       EventType = "channel_post"
	EventEditedChannelPost EventType = "edited_channel_post"
	EventMyChatMember      EventType = "my_chat_member"
	EventChatMember        EventType = "chat_member"
	EventUnknown           EventType = "unknown"
)

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// AllowedUpdates is the update set requested from Telegram.
var AllowedUpdates = []string{
	"message",
	"edited_message",
	"channel_post",
	"edited_channel_post",
	"callback_query",
	"my_chat_member",
	"chat_member",
}

// Classify returns the event type of u together with the chat it happened in
// and the user that caused it. Either may be nil.
func Classify(u tgbotapi.Update) (EventType, *tgbotapi.Chat, *tgbotapi.User) {
	switch {
	case u.Message != nil:
		if u.Message.IsCommand() {
			return EventCommand, u.Message.Chat, u.Message.From
		}
		return EventMessage, u.Message.Chat, u.Message.From
	case u.EditedMessage != nil:
		return EventEditedMessage, u.EditedMessage.Chat, u.EditedMessage.From
	case u.CallbackQuery != nil:
		var chat *tgbotapi.Chat
		if u.CallbackQuery.Message != nil {
			chat = u.CallbackQuery.Message.Chat
		}
		return EventCallback, chat, u.CallbackQuery.From
	case u.ChannelPost != nil:
		return EventChannelPost, u.ChannelPost.Chat, u.ChannelPost.From
	case u.EditedChannelPost != nil:
		return EventEditedChannelPost, u.EditedChannelPost.Chat, u.EditedChannelPost.From
	case u.MyChatMember != nil:
		return EventMyChatMember, &u.MyChatMember.Chat, &u.MyChatMember.From
	case u.ChatMember != nil:
		return EventChatMember, &u.ChatMember.Chat, &u.ChatMember.From
	}
	return EventUnknown, nil, nil
}

// FullName joins the first and last name of a Telegram user.
func FullName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
