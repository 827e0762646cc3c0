package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Chat is a group, supergroup or channel the bot has seen.
type Chat struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Username  *string   `db:"username"`
	IsActive  bool      `db:"is_active"`
	JoinedAt  time.Time `db:"joined_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const chatColumns = `id, type, title, username, is_active, joined_at, updated_at`

// UpsertChat records c, keeping the original joined_at of a known chat.
func (s *Storage) UpsertChat(ctx context.Context, c Chat) error {
	const operation = "storage.UpsertChat"

	now := s.now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			username = excluded.username,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`),
		c.ID, c.Type, c.Title, c.Username, c.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (s *Storage) SetChatActive(ctx context.Context, id int64, active bool) error {
	const operation = "storage.SetChatActive"

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE chats SET is_active = ?, updated_at = ? WHERE id = ?`),
		active, s.now(), id)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return expectRow(res, ErrChatNotFound)
}

func (s *Storage) GetChat(ctx context.Context, id int64) (*Chat, error) {
	var chat Chat
	err := s.db.GetContext(ctx, &chat,
		s.db.Rebind(`SELECT `+chatColumns+` FROM chats WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("storage.GetChat: %w", err)
	}
	return &chat, nil
}

// ListChats returns known chats, only the active ones when onlyActive is set.
func (s *Storage) ListChats(ctx context.Context, onlyActive bool) ([]Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats`
	var args []interface{}
	if onlyActive {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY joined_at, id`

	var chats []Chat
	if err := s.db.SelectContext(ctx, &chats, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("storage.ListChats: %w", err)
	}
	return chats, nil
}

// CountChats returns the number of active chats per type.
func (s *Storage) CountChats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(`SELECT type, COUNT(*) FROM chats WHERE is_active = ? GROUP BY type`), true)
	if err != nil {
		return nil, fmt.Errorf("storage.CountChats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			chatType string
			n        int
		)
		if err := rows.Scan(&chatType, &n); err != nil {
			return nil, fmt.Errorf("storage.CountChats: scan: %w", err)
		}
		counts[chatType] = n
	}
	return counts, rows.Err()
}

// MigrateChat moves a group that was upgraded to a supergroup onto its new ID.
func (s *Storage) MigrateChat(ctx context.Context, fromID int64, to Chat) error {
	const operation = "storage.MigrateChat"

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", operation, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	var joined time.Time
	err = tx.GetContext(ctx, &joined, tx.Rebind(`SELECT joined_at FROM chats WHERE id = ?`), fromID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		joined = now
	case err != nil:
		return fmt.Errorf("%s: select: %w", operation, err)
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE chats SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, now, fromID); err != nil {
		return fmt.Errorf("%s: deactivate: %w", operation, err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`),
		to.ID, to.Type, to.Title, to.Username, true, joined, now); err != nil {
		return fmt.Errorf("%s: insert: %w", operation, err)
	}

	return tx.Commit()
}
