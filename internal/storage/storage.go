package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/config"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrChatNotFound = errors.New("chat not found")
)

// Cache is the key/value store used for read-through caching of users.
// *redis.Client and *redis.Memory from pkg/redis satisfy it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Storage struct {
	db       *sqlx.DB
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Storage)

// WithCache enables the user cache.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Storage) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// Connect opens the database described by cfg, retrying with exponential
// backoff until cfg.ConnectTimeout elapses.
func Connect(ctx context.Context, cfg config.Database, logger *zap.Logger) (*sqlx.DB, error) {
	const operation = "storage.Connect"

	var db *sqlx.DB

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = cfg.ConnectTimeout
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to database...", zap.String("driver", cfg.Driver))

	err := backoff.RetryNotify(
		func() error {
			conn, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			db = conn
			return nil
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, next time.Duration) {
			logger.Warn("Database connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", next))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	if cfg.Driver == config.DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	logger.Info("Successfully connected to database")
	return db, nil
}

func New(db *sqlx.DB, logger *zap.Logger, opts ...Option) *Storage {
	s := &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle so a second Storage can share it.
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
