package bot

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/locale"
	"groupkeeper-bot/internal/storage"
)

// Context is handed to middlewares and handlers for a single update.
type Context struct {
	context.Context

	Update tgbotapi.Update
	Event  EventType
	Chat   *tgbotapi.Chat
	Sender *tgbotapi.User

	// Command and Args are set for EventCommand.
	Command string
	Args    string

	// User is the stored user, set by the auth middleware.
	User *storage.User
	// Lang is the resolved locale, set by the i18n middleware.
	Lang string

	api     Sender
	catalog *locale.Catalog
	states  *StateStorage
	logger  *zap.Logger

	stateOnce sync.Once
	state     DialogState
	stateErr  error
}

var errNoChat = errors.New("update has no chat")

func (c *Context) Logger() *zap.Logger {
	return c.logger
}

func (c *Context) API() Sender {
	return c.api
}

func (c *Context) Catalog() *locale.Catalog {
	return c.catalog
}

// ChatID returns the chat the update belongs to, or 0.
func (c *Context) ChatID() int64 {
	if c.Chat == nil {
		return 0
	}
	return c.Chat.ID
}

func (c *Context) ChatType() ChatType {
	if c.Chat == nil {
		return ""
	}
	return ChatType(c.Chat.Type)
}

// SenderID returns the Telegram ID of the user behind the update, or 0.
func (c *Context) SenderID() int64 {
	if c.Sender == nil {
		return 0
	}
	return c.Sender.ID
}

// Message returns the message carried by the update, if any.
func (c *Context) Message() *tgbotapi.Message {
	u := c.Update
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost
	case u.CallbackQuery != nil:
		return u.CallbackQuery.Message
	}
	return nil
}

func (c *Context) Text() string {
	if m := c.Message(); m != nil && c.Update.CallbackQuery == nil {
		return m.Text
	}
	return ""
}

// CallbackData returns the data of a callback query.
func (c *Context) CallbackData() string {
	if c.Update.CallbackQuery == nil {
		return ""
	}
	return c.Update.CallbackQuery.Data
}

// T translates key into the update's locale.
func (c *Context) T(key string, args ...string) string {
	if c.catalog == nil {
		return key
	}
	return c.catalog.T(c.Lang, key, args...)
}

func (c *Context) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

// Reply sends plain text to the update's chat.
func (c *Context) Reply(text string) error {
	if c.Chat == nil {
		return errNoChat
	}
	_, err := c.api.Send(tgbotapi.NewMessage(c.Chat.ID, text))
	return err
}

func (c *Context) ReplyHTML(text string) error {
	if c.Chat == nil {
		return errNoChat
	}
	msg := tgbotapi.NewMessage(c.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := c.api.Send(msg)
	return err
}

func (c *Context) ReplyWithMarkup(text string, markup interface{}) error {
	if c.Chat == nil {
		return errNoChat
	}
	msg := tgbotapi.NewMessage(c.Chat.ID, text)
	msg.ReplyMarkup = markup
	_, err := c.api.Send(msg)
	return err
}

// Answer acknowledges a callback query; text may be empty.
func (c *Context) Answer(text string) error {
	if c.Update.CallbackQuery == nil {
		return nil
	}
	_, err := c.api.Request(tgbotapi.NewCallback(c.Update.CallbackQuery.ID, text))
	return err
}

// Edit replaces the text of the message a callback button belongs to.
func (c *Context) Edit(text string) error {
	cb := c.Update.CallbackQuery
	if cb == nil || cb.Message == nil {
		return c.Reply(text)
	}
	_, err := c.api.Send(tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text))
	return err
}

// State returns the chat's dialog state. It is loaded once per update.
func (c *Context) State() (DialogState, error) {
	c.stateOnce.Do(func() {
		if c.states == nil || c.Chat == nil {
			return
		}
		c.state, c.stateErr = c.states.Get(c, c.Chat.ID)
	})
	return c.state, c.stateErr
}

func (c *Context) SetStep(step string) error {
	if c.states == nil || c.Chat == nil {
		return errNoChat
	}
	return c.states.SetStep(c, c.Chat.ID, step)
}

func (c *Context) ClearState() error {
	if c.states == nil || c.Chat == nil {
		return errNoChat
	}
	return c.states.Clear(c, c.Chat.ID)
}
