package personal

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
	"groupkeeper-bot/internal/bot/middlewares"
	"groupkeeper-bot/internal/bot/throttle"
	"groupkeeper-bot/internal/locale"
	"groupkeeper-bot/internal/storage"
	"groupkeeper-bot/internal/storage/storagetest"
	"groupkeeper-bot/pkg/redis"
)

const adminID = 1000

type fixedParams struct{}

func (fixedParams) Parameters() throttle.Parameters {
	return throttle.Parameters{RPS: 12.5, BurstCapacity: 25, BurstFactor: 2, Pressure: 0.42}
}

type fixture struct {
	store  *storage.Storage
	sender *bottest.Sender
	d      *bot.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	catalog, err := locale.Load("", "en")
	require.NoError(t, err)

	store := storagetest.New(t)
	sender := &bottest.Sender{}
	states := bot.NewStateStorage(redis.NewMemory(), time.Hour)

	d := bot.NewDispatcher(sender, states, catalog, logger)
	d.Use(middlewares.Auth(store, logger), middlewares.I18n(catalog))

	h := New(store, NewStatsReporter(store, fixedParams{}), func(id int64) bool { return id == adminID }, logger)
	d.Include(h.Routers()...)

	return &fixture{store: store, sender: sender, d: d}
}

func (f *fixture) send(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	require.NoError(t, f.d.Dispatch(context.Background(), update))
}

func from(id int64, lang string) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: "Ivan", LastName: "Petrov", UserName: "ivan", LanguageCode: lang}
}

func private(id int64, lang, text string) tgbotapi.Update {
	return bottest.Message(bottest.Chat(id, "private", ""), from(id, lang), text)
}

func TestStartGreetsInUserLanguage(t *testing.T) {
	f := newFixture(t)

	f.send(t, private(1, "en", "/start"))
	f.send(t, private(2, "ru", "/start"))

	assert.Equal(t, []string{"Hello, Ivan Petrov!", "Привет, Ivan Petrov!"}, f.sender.Texts())

	u, err := f.store.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "ru", u.LanguageCode)
}

func TestUnknownTextGetsHint(t *testing.T) {
	f := newFixture(t)

	f.send(t, private(1, "en", "what is this"))
	f.send(t, private(1, "en", "/nosuchcommand"))

	assert.Equal(t, []string{
		"I don't understand. Send /help to see what I can do.",
		"I don't understand. Send /help to see what I can do.",
	}, f.sender.Texts())
}

func TestLanguageViaCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, private(1, "en", "/language"))
	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	markup, ok := sent[0].(tgbotapi.MessageConfig).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "lang:ru", *markup.InlineKeyboard[1][0].CallbackData)

	f.send(t, bottest.Callback(bottest.Chat(1, "private", ""), from(1, "en"), "lang:ru"))

	u, err := f.store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ru", u.LanguageCode)
	assert.Equal(t, "Язык переключён на русский.", f.sender.LastText())

	f.send(t, private(1, "en", "hello"))
	assert.Equal(t, "Я не понимаю. Отправьте /help, чтобы узнать, что я умею.", f.sender.LastText(),
		"state is cleared and the stored language is used")
}

func TestLanguageViaText(t *testing.T) {
	f := newFixture(t)

	f.send(t, private(1, "en", "/language"))
	f.send(t, private(1, "en", "xx"))
	assert.Equal(t, `Unknown language "xx". Available: en, ru`, f.sender.LastText())

	f.send(t, private(1, "en", "RU"))
	assert.Equal(t, "Язык переключён на русский.", f.sender.LastText())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	f.send(t, private(1, "en", "/cancel"))
	assert.Equal(t, "There is nothing to cancel.", f.sender.LastText())

	f.send(t, private(1, "en", "/language"))
	f.send(t, private(1, "en", "/cancel"))
	assert.Equal(t, "Cancelled.", f.sender.LastText())

	f.send(t, private(1, "en", "ru"))
	assert.Equal(t, "I don't understand. Send /help to see what I can do.", f.sender.LastText())
}

func TestProfile(t *testing.T) {
	f := newFixture(t)

	f.send(t, private(1, "en", "/profile"))
	text := f.sender.LastText()
	assert.Contains(t, text, "ID: 1")
	assert.Contains(t, text, "Username: @ivan")
	assert.Contains(t, text, "Language: en")
	assert.Contains(t, text, "(expired)")
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertChat(ctx, storage.Chat{ID: -1, Type: "group", Title: "G", IsActive: true}))
	require.NoError(t, f.store.UpsertChat(ctx, storage.Chat{ID: -2, Type: "channel", Title: "C", IsActive: true}))
	f.send(t, private(5, "en", "/start"))

	f.send(t, private(5, "en", "/stats"))
	assert.Equal(t, "Hello, Ivan Petrov!", f.sender.LastText(), "non-admins are ignored")

	f.send(t, private(adminID, "en", "/stats"))
	stats := f.sender.LastText()
	assert.Contains(t, stats, "Users: 2")
	assert.Contains(t, stats, "Groups: 1")
	assert.Contains(t, stats, "Channels: 1")
	assert.Contains(t, stats, "Throttle: 12.5 rps, burst 25.0, pressure 0.42")

	f.send(t, private(adminID, "en", "/export"))
	doc, ok := f.sender.Sent()[len(f.sender.Sent())-1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, "Users export", doc.Caption)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.NotEmpty(t, file.Bytes)

	f.send(t, private(adminID, "en", "/extend"))
	assert.Equal(t, "Usage: /extend <user_id> <days>", f.sender.LastText())

	f.send(t, private(adminID, "en", "/extend 999 3"))
	assert.Equal(t, "User 999 not found.", f.sender.LastText())

	f.send(t, private(adminID, "en", "/extend 5 30"))
	assert.Contains(t, f.sender.LastText(), "Subscription of 5 extended until")

	u, err := f.store.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.True(t, u.SubscriptionActive(time.Now()))
}

func TestParseExtendArgs(t *testing.T) {
	tests := []struct {
		args string
		id   int64
		days int
		ok   bool
	}{
		{"42 7", 42, 7, true},
		{"  42   7 ", 42, 7, true},
		{"42", 0, 0, false},
		{"x 7", 0, 0, false},
		{"42 -1", 0, 0, false},
		{"42 7 9", 0, 0, false},
	}
	for _, tt := range tests {
		id, days, ok := parseExtendArgs(tt.args)
		assert.Equal(t, tt.ok, ok, tt.args)
		if tt.ok {
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.days, days)
		}
	}
}

func TestDailyReport(t *testing.T) {
	store := storagetest.New(t)
	catalog, err := locale.Load("", "en")
	require.NoError(t, err)

	text, err := NewStatsReporter(store, nil).DailyReport(context.Background(), catalog, "en")
	require.NoError(t, err)
	assert.Contains(t, text, "Daily report")
	assert.Contains(t, text, "Users: 0")
}
