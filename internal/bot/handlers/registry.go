// Package handlers holds what the per-chat-type routers share: keeping the
// registry of groups and channels the bot belongs to.
package handlers

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/storage"
)

type ChatStore interface {
	UpsertChat(ctx context.Context, c storage.Chat) error
	SetChatActive(ctx context.Context, id int64, active bool) error
	MigrateChat(ctx context.Context, fromID int64, to storage.Chat) error
}

// ChatRecord converts a Telegram chat into its registry row.
func ChatRecord(chat *tgbotapi.Chat, active bool) storage.Chat {
	rec := storage.Chat{
		ID:       chat.ID,
		Type:     chat.Type,
		Title:    chat.Title,
		IsActive: active,
	}
	if chat.UserName != "" {
		username := chat.UserName
		rec.Username = &username
	}
	return rec
}

// IsMemberStatus reports whether a chat member status means the bot is
// still in the chat.
func IsMemberStatus(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	}
	return false
}

// TrackMembership records the bot joining or leaving the update's chat.
// chat_member updates about other users are ignored.
func TrackMembership(store ChatStore, logger *zap.Logger) bot.HandlerFunc {
	return func(c *bot.Context) error {
		upd := c.Update.MyChatMember
		if upd == nil {
			return nil
		}

		active := IsMemberStatus(upd.NewChatMember.Status)
		rec := ChatRecord(&upd.Chat, active)

		var err error
		if active {
			err = store.UpsertChat(c, rec)
		} else {
			err = store.SetChatActive(c, rec.ID, false)
			if errors.Is(err, storage.ErrChatNotFound) {
				err = store.UpsertChat(c, rec)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to track membership in chat %d: %w", rec.ID, err)
		}

		logger.Info("Bot membership changed",
			zap.Int64("chat_id", rec.ID),
			zap.String("chat_type", rec.Type),
			zap.String("old_status", upd.OldChatMember.Status),
			zap.String("new_status", upd.NewChatMember.Status))
		return nil
	}
}
