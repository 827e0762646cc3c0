package group

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/bottest"
	"groupkeeper-bot/internal/locale"
	"groupkeeper-bot/internal/storage"
	"groupkeeper-bot/internal/storage/storagetest"
	"groupkeeper-bot/pkg/redis"
)

func newDispatcher(t *testing.T) (*bot.Dispatcher, *bottest.Sender, *storage.Storage) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	catalog, err := locale.Load("", "en")
	require.NoError(t, err)

	store := storagetest.New(t)
	sender := &bottest.Sender{}
	d := bot.NewDispatcher(sender, bot.NewStateStorage(redis.NewMemory(), time.Hour), catalog, logger)
	d.Include(New(store, logger).Router())
	return d, sender, store
}

func TestGroupCommands(t *testing.T) {
	d, sender, _ := newDispatcher(t)
	ctx := context.Background()
	chat := bottest.Chat(-10, "supergroup", "Book Club")

	require.NoError(t, d.Dispatch(ctx, bottest.Message(chat, bottest.User(1, "Ann"), "/start")))
	require.NoError(t, d.Dispatch(ctx, bottest.Message(chat, bottest.User(1, "Ann"), "/help")))

	texts := sender.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Hello, Book Club! I keep this chat in order. Send /help for commands.", texts[0])
	assert.Contains(t, texts[1], "Group commands")
}

func TestGroupIgnoresChatter(t *testing.T) {
	d, sender, _ := newDispatcher(t)

	err := d.Dispatch(context.Background(), bottest.Message(bottest.Chat(-10, "group", "G"), bottest.User(1, "Ann"), "hi all"))
	assert.ErrorIs(t, err, bot.ErrNotHandled)
	assert.Empty(t, sender.Sent())
}

func TestWelcomeNewMembers(t *testing.T) {
	d, sender, _ := newDispatcher(t)
	chat := bottest.Chat(-10, "group", "Book Club")

	update := bottest.Message(chat, bottest.User(1, "Ann"), "")
	update.Message.NewChatMembers = []tgbotapi.User{
		{ID: 2, FirstName: "Bob", LastName: "Stone"},
		{ID: 3, FirstName: "Helper", IsBot: true},
	}

	require.NoError(t, d.Dispatch(context.Background(), update))
	assert.Equal(t, []string{"Welcome to Book Club, Bob Stone!"}, sender.Texts())
}

func TestMembershipRegistry(t *testing.T) {
	d, _, store := newDispatcher(t)
	ctx := context.Background()
	chat := bottest.Chat(-10, "group", "Book Club")
	admin := bottest.User(1, "Ann")

	require.NoError(t, d.Dispatch(ctx, bottest.MyChatMember(chat, admin, "left", "member")))
	c, err := store.GetChat(ctx, -10)
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.Equal(t, "Book Club", c.Title)

	require.NoError(t, d.Dispatch(ctx, bottest.MyChatMember(chat, admin, "member", "kicked")))
	c, err = store.GetChat(ctx, -10)
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	unseen := bottest.Chat(-20, "supergroup", "Unseen")
	require.NoError(t, d.Dispatch(ctx, bottest.MyChatMember(unseen, admin, "member", "left")))
	c, err = store.GetChat(ctx, -20)
	require.NoError(t, err)
	assert.False(t, c.IsActive, "leaving an unknown chat still records it")
}

func TestMigration(t *testing.T) {
	d, _, store := newDispatcher(t)
	ctx := context.Background()
	chat := bottest.Chat(-10, "group", "Book Club")

	require.NoError(t, d.Dispatch(ctx, bottest.MyChatMember(chat, bottest.User(1, "Ann"), "left", "member")))

	update := bottest.Message(chat, bottest.User(1, "Ann"), "")
	update.Message.MigrateToChatID = -100123
	require.NoError(t, d.Dispatch(ctx, update))

	moved, err := store.GetChat(ctx, -100123)
	require.NoError(t, err)
	assert.True(t, moved.IsActive)
	assert.Equal(t, "supergroup", moved.Type)

	old, err := store.GetChat(ctx, -10)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}

func TestPrivateChatsAreNotGroupBusiness(t *testing.T) {
	d, _, _ := newDispatcher(t)
	err := d.Dispatch(context.Background(), bottest.Private(1, "/start"))
	assert.ErrorIs(t, err, bot.ErrNotHandled)
}
