package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/pkg/redis"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()

	logger := zaptest.NewLogger(t)
	db, err := sqlx.Open(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db.DB, config.DriverSQLite, logger))

	s := New(db, logger, opts...)
	s.now = func() time.Time { return testNow }
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.GetUser(ctx, 42)
	assert.ErrorIs(t, err, ErrUserNotFound)

	created, err := s.CreateUser(ctx, User{
		ID:           42,
		Username:     strPtr("alice"),
		FullName:     "Alice Liddell",
		LanguageCode: "en",
	})
	require.NoError(t, err)
	assert.True(t, created.SubEndDate.Equal(testNow))

	got, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", got.FullName)
	require.NotNil(t, got.Username)
	assert.Equal(t, "alice", *got.Username)
	assert.Equal(t, "en", got.LanguageCode)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateUserReleasesTakenUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.CreateUser(ctx, User{ID: 1, Username: strPtr("nick"), FullName: "Old", LanguageCode: "en"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, User{ID: 2, Username: strPtr("nick"), FullName: "New", LanguageCode: "ru"})
	require.NoError(t, err)

	old, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, old.Username)

	fresh, err := s.GetUser(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, fresh.Username)
	assert.Equal(t, "nick", *fresh.Username)
}

func TestCreateUserKeepsLanguageOnConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.CreateUser(ctx, User{ID: 7, FullName: "Bob", LanguageCode: "en"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserLanguage(ctx, 7, "ru"))

	again, err := s.CreateUser(ctx, User{ID: 7, FullName: "Bobby", LanguageCode: "en"})
	require.NoError(t, err)
	assert.Equal(t, "Bobby", again.FullName)
	assert.Equal(t, "ru", again.LanguageCode)
}

func TestUpdateUserLanguageMissing(t *testing.T) {
	s := newTestStorage(t)
	assert.ErrorIs(t, s.UpdateUserLanguage(context.Background(), 404, "en"), ErrUserNotFound)
}

func TestExtendSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.ExtendSubscription(ctx, 1, time.Hour)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.CreateUser(ctx, User{
		ID:           1,
		FullName:     "Lapsed",
		LanguageCode: "en",
		SubEndDate:   testNow.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	end, err := s.ExtendSubscription(ctx, 1, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, end.Equal(testNow.Add(24*time.Hour)), "lapsed subscription counts from now")

	end, err = s.ExtendSubscription(ctx, 1, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, end.Equal(testNow.Add(48*time.Hour)), "active subscription is extended from its end")

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.SubscriptionActive(testNow))
}

func TestUserCache(t *testing.T) {
	ctx := context.Background()
	cache := redis.NewMemory()
	s := newTestStorage(t, WithCache(cache, time.Minute))

	_, err := s.CreateUser(ctx, User{ID: 5, FullName: "Cached", LanguageCode: "en"})
	require.NoError(t, err)

	_, err = s.GetUser(ctx, 5)
	require.NoError(t, err)

	_, err = cache.Get(ctx, userCacheKey(5))
	require.NoError(t, err, "read populates the cache")

	require.NoError(t, s.UpdateUserLanguage(ctx, 5, "ru"))
	_, err = cache.Get(ctx, userCacheKey(5))
	assert.ErrorIs(t, err, redis.ErrNotFound, "write invalidates the cache")

	u, err := s.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "ru", u.LanguageCode)
}

func TestChats(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.UpsertChat(ctx, Chat{ID: -100, Type: "channel", Title: "News", Username: strPtr("news"), IsActive: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: -200, Type: "group", Title: "Friends", IsActive: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: -100, Type: "channel", Title: "Daily News", IsActive: true}))

	c, err := s.GetChat(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, "Daily News", c.Title)
	assert.Nil(t, c.Username)

	require.NoError(t, s.SetChatActive(ctx, -200, false))
	assert.ErrorIs(t, s.SetChatActive(ctx, -300, false), ErrChatNotFound)

	active, err := s.ListChats(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(-100), active[0].ID)

	all, err := s.ListChats(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	counts, err := s.CountChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"channel": 1}, counts)

	_, err = s.GetChat(ctx, -999)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestMigrateChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.UpsertChat(ctx, Chat{ID: -1, Type: "group", Title: "Club", IsActive: true}))
	require.NoError(t, s.MigrateChat(ctx, -1, Chat{ID: -1001, Type: "supergroup", Title: "Club"}))

	old, err := s.GetChat(ctx, -1)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	moved, err := s.GetChat(ctx, -1001)
	require.NoError(t, err)
	assert.True(t, moved.IsActive)
	assert.Equal(t, "supergroup", moved.Type)
}

func TestExportUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	_, err := s.CreateUser(ctx, User{ID: 1, Username: strPtr("ann"), FullName: "Ann", LanguageCode: "en"})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, User{ID: 2, FullName: "Boris", LanguageCode: "ru"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportUsers(ctx, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(usersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "@ann", rows[1][1])
	assert.Equal(t, "Boris", rows[2][2])
}
