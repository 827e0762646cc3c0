package group

import (
	"fmt"

	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/handlers"
	"groupkeeper-bot/internal/storage"
)

type Handler struct {
	chats  handlers.ChatStore
	logger *zap.Logger
}

func New(chats handlers.ChatStore, logger *zap.Logger) *Handler {
	return &Handler{chats: chats, logger: logger}
}

func (h *Handler) Router() *bot.Router {
	return bot.NewRouter("group", bot.ChatGroup, bot.ChatSupergroup).
		Command("start", "Greeting", h.handleStart).
		Command("help", "Group commands", h.handleHelp).
		Text(bot.IsMigration, h.handleMigration).
		Text(bot.HasNewMembers, h.handleNewMembers).
		ChatMember(handlers.TrackMembership(h.chats, h.logger))
}

func (h *Handler) handleStart(c *bot.Context) error {
	return c.Reply(c.T("group_start", "title", c.Chat.Title))
}

func (h *Handler) handleHelp(c *bot.Context) error {
	return c.Reply(c.T("group_help"))
}

func (h *Handler) handleNewMembers(c *bot.Context) error {
	for _, member := range c.Message().NewChatMembers {
		if member.IsBot {
			continue
		}
		member := member
		text := c.T("group_welcome", "title", c.Chat.Title, "name", bot.FullName(&member))
		if err := c.Reply(text); err != nil {
			return err
		}
	}
	return nil
}

// handleMigration moves the registry entry when a group is upgraded to a
// supergroup.
func (h *Handler) handleMigration(c *bot.Context) error {
	msg := c.Message()
	to := storage.Chat{
		ID:       msg.MigrateToChatID,
		Type:     string(bot.ChatSupergroup),
		Title:    c.Chat.Title,
		IsActive: true,
	}
	if err := h.chats.MigrateChat(c, c.Chat.ID, to); err != nil {
		return fmt.Errorf("failed to migrate chat %d: %w", c.Chat.ID, err)
	}

	h.logger.Info("Group migrated to supergroup",
		zap.Int64("from_chat_id", c.Chat.ID),
		zap.Int64("to_chat_id", to.ID))
	return nil
}
