package channel

import (
	"fmt"

	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/handlers"
)

type Handler struct {
	chats  handlers.ChatStore
	logger *zap.Logger
}

func New(chats handlers.ChatStore, logger *zap.Logger) *Handler {
	return &Handler{chats: chats, logger: logger}
}

func (h *Handler) Router() *bot.Router {
	return bot.NewRouter("channel", bot.ChatChannel).
		ChannelPost(h.handlePost).
		ChatMember(handlers.TrackMembership(h.chats, h.logger))
}

// handlePost keeps the channel's title and username current.
func (h *Handler) handlePost(c *bot.Context) error {
	if c.Chat == nil {
		return nil
	}
	if err := h.chats.UpsertChat(c, handlers.ChatRecord(c.Chat, true)); err != nil {
		return fmt.Errorf("failed to record channel %d: %w", c.Chat.ID, err)
	}

	h.logger.Debug("Channel post",
		zap.Int64("chat_id", c.Chat.ID),
		zap.String("event", string(c.Event)))
	return nil
}
