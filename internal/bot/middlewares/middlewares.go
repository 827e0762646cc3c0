// Package middlewares holds the cross-cutting handlers wrapped around every
// update: panic recovery, logging, throttling, authorization and locale
// resolution.
package middlewares

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/throttle"
	"groupkeeper-bot/internal/locale"
	"groupkeeper-bot/internal/storage"
)

// Recover turns a handler panic into an error.
func Recover(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panicked",
						zap.Any("panic", r),
						zap.Int64("chat_id", c.ChatID()),
						zap.String("event", string(c.Event)),
						zap.ByteString("stack", debug.Stack()))
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(c)
		}
	}
}

// Logging logs every update with its latency and outcome.
func Logging(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) error {
			start := time.Now()
			err := next(c)

			fields := []zap.Field{
				zap.Int("update_id", c.Update.UpdateID),
				zap.String("event", string(c.Event)),
				zap.Int64("chat_id", c.ChatID()),
				zap.Int64("user_id", c.SenderID()),
				zap.Duration("latency", time.Since(start)),
			}
			if c.Command != "" {
				fields = append(fields, zap.String("command", c.Command))
			}

			switch {
			case err == nil:
				logger.Debug("Update processed", fields...)
			case errors.Is(err, bot.ErrNotHandled):
				logger.Debug("Update not handled", fields...)
			default:
				logger.Warn("Update failed", append(fields, zap.Error(err))...)
			}
			return err
		}
	}
}

// Kind is the coarse update category reported by the throttle.
type Kind string

const (
	KindCallback Kind = "callback"
	KindCommand  Kind = "command"
	KindMessage  Kind = "message"
	KindOther    Kind = "other"
)

func classify(c *bot.Context) Kind {
	switch {
	case c.Update.CallbackQuery != nil:
		return KindCallback
	case c.Update.Message != nil && strings.HasPrefix(c.Update.Message.Text, "/"):
		return KindCommand
	case c.Update.Message != nil:
		return KindMessage
	}
	return KindOther
}

// RateLimiter is the limiter Throttle consults. *throttle.Limiter
// satisfies it.
type RateLimiter interface {
	Allow(userID int64) bool
	Observe(latency time.Duration, blocked bool)
	Tune() bool
	Parameters() throttle.Parameters
}

// Throttle drops updates from users who exceed their token bucket. Blocked
// updates get no reply. Every update, with or without a sender, gives the
// limiter a chance to tune.
func Throttle(limiter RateLimiter, logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) error {
			defer limiter.Tune()

			if c.Sender == nil {
				return next(c)
			}

			start := time.Now()
			if !limiter.Allow(c.Sender.ID) {
				limiter.Observe(time.Since(start), true)

				p := limiter.Parameters()
				logger.Debug("Update throttled",
					zap.Int64("user_id", c.Sender.ID),
					zap.String("kind", string(classify(c))),
					zap.Float64("rps", p.RPS),
					zap.Float64("burst", p.BurstCapacity))
				return nil
			}

			err := next(c)
			limiter.Observe(time.Since(start), false)
			return err
		}
	}
}

// UserRepository is the storage the auth middleware needs.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	CreateUser(ctx context.Context, u storage.User) (*storage.User, error)
}

// Auth loads the sender's stored user, registering it on first contact.
func Auth(users UserRepository, logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) error {
			if c.Sender == nil || c.Sender.IsBot {
				return next(c)
			}

			user, err := users.GetUser(c, c.Sender.ID)
			if errors.Is(err, storage.ErrUserNotFound) {
				user, err = users.CreateUser(c, newUser(c))
				if err == nil {
					logger.Info("New user registered",
						zap.Int64("user_id", user.ID),
						zap.String("language", user.LanguageCode))
				}
			}
			if err != nil {
				return fmt.Errorf("failed to authorize user %d: %w", c.Sender.ID, err)
			}

			c.User = user
			return next(c)
		}
	}
}

func newUser(c *bot.Context) storage.User {
	u := storage.User{
		ID:           c.Sender.ID,
		FullName:     bot.FullName(c.Sender),
		LanguageCode: c.Sender.LanguageCode,
	}
	if c.Sender.UserName != "" {
		username := c.Sender.UserName
		u.Username = &username
	}
	return u
}

// I18n resolves the locale: the stored user language, then Telegram's
// language_code, then the catalog fallback.
func I18n(catalog *locale.Catalog) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) error {
			var candidates []string
			if c.User != nil {
				candidates = append(candidates, c.User.LanguageCode)
			}
			if c.Sender != nil {
				candidates = append(candidates, c.Sender.LanguageCode)
			}
			c.Lang = catalog.Resolve(candidates...)
			return next(c)
		}
	}
}

// AdminOnly silently drops updates from senders isAdmin rejects.
func AdminOnly(isAdmin func(userID int64) bool) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(c *bot.Context) error {
			if c.Sender == nil || !isAdmin(c.Sender.ID) {
				return nil
			}
			return next(c)
		}
	}
}
