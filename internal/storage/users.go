package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     *string   `db:"username" json:"username,omitempty"`
	FullName     string    `db:"full_name" json:"full_name"`
	LanguageCode string    `db:"language_code" json:"language_code"`
	SubEndDate   time.Time `db:"sub_end_date" json:"sub_end_date"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SubscriptionActive reports whether the subscription runs past now.
func (u *User) SubscriptionActive(now time.Time) bool {
	return u.SubEndDate.After(now)
}

const userColumns = `id, username, full_name, language_code, sub_end_date, created_at, updated_at`

func userCacheKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

func (s *Storage) GetUser(ctx context.Context, id int64) (*User, error) {
	const operation = "storage.GetUser"

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, userCacheKey(id)); err == nil {
			var user User
			if err := json.Unmarshal(cached, &user); err == nil {
				return &user, nil
			}
		}
	}

	var user User
	err := s.db.GetContext(ctx, &user,
		s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	s.cacheUser(ctx, &user)
	return &user, nil
}

// CreateUser inserts u. A username still attached to another row is released
// first so the unique constraint holds after Telegram reassigns it. When the
// row already exists its profile fields are refreshed and its language and
// subscription are kept.
func (s *Storage) CreateUser(ctx context.Context, u User) (*User, error) {
	const operation = "storage.CreateUser"

	now := s.now()
	if u.SubEndDate.IsZero() {
		u.SubEndDate = now
	}
	u.CreatedAt = now
	u.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", operation, err)
	}
	defer func() { _ = tx.Rollback() }()

	if u.Username != nil {
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET username = NULL, updated_at = ? WHERE username = ? AND id <> ?`),
			now, *u.Username, u.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: release username: %w", operation, err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			updated_at = excluded.updated_at`),
		u.ID, u.Username, u.FullName, u.LanguageCode, u.SubEndDate, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: insert: %w", operation, err)
	}

	var stored User
	if err := tx.GetContext(ctx, &stored,
		tx.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), u.ID); err != nil {
		return nil, fmt.Errorf("%s: reload: %w", operation, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", operation, err)
	}

	s.invalidateUser(ctx, u.ID)
	return &stored, nil
}

func (s *Storage) UpdateUserLanguage(ctx context.Context, id int64, code string) error {
	const operation = "storage.UpdateUserLanguage"

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE users SET language_code = ?, updated_at = ? WHERE id = ?`),
		code, s.now(), id)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if err := expectRow(res, ErrUserNotFound); err != nil {
		return err
	}

	s.invalidateUser(ctx, id)
	return nil
}

// ExtendSubscription pushes sub_end_date forward by d, counting from now when
// the subscription has already lapsed. It returns the new end date.
func (s *Storage) ExtendSubscription(ctx context.Context, id int64, d time.Duration) (time.Time, error) {
	const operation = "storage.ExtendSubscription"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: begin: %w", operation, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current time.Time
	err = tx.GetContext(ctx, &current, tx.Rebind(`SELECT sub_end_date FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("%s: select: %w", operation, err)
	}

	now := s.now()
	base := current.UTC()
	if base.Before(now) {
		base = now
	}
	end := base.Add(d)

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE users SET sub_end_date = ?, updated_at = ? WHERE id = ?`),
		end, now, id); err != nil {
		return time.Time{}, fmt.Errorf("%s: update: %w", operation, err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("%s: commit: %w", operation, err)
	}

	s.invalidateUser(ctx, id)
	return end, nil
}

func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("storage.CountUsers: %w", err)
	}
	return n, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListUsers: %w", err)
	}
	return users, nil
}

func (s *Storage) cacheUser(ctx context.Context, u *User) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, userCacheKey(u.ID), data, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache user", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}

func (s *Storage) invalidateUser(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, userCacheKey(id)); err != nil {
		s.logger.Warn("Failed to invalidate cached user", zap.Int64("user_id", id), zap.Error(err))
	}
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
