package personal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/middlewares"
	"groupkeeper-bot/internal/storage"
)

const (
	StepAwaitingLanguage = "awaiting_language"

	languageCallbackPrefix = "lang:"
	dateLayout             = "2006-01-02 15:04 MST"
)

type Storage interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	UpdateUserLanguage(ctx context.Context, id int64, code string) error
	ExtendSubscription(ctx context.Context, id int64, d time.Duration) (time.Time, error)
	Stats
}

type Handler struct {
	storage Storage
	stats   *StatsReporter
	isAdmin func(userID int64) bool
	logger  *zap.Logger
	now     func() time.Time
}

func New(store Storage, stats *StatsReporter, isAdmin func(int64) bool, logger *zap.Logger) *Handler {
	return &Handler{
		storage: store,
		stats:   stats,
		isAdmin: isAdmin,
		logger:  logger,
		now:     time.Now,
	}
}

// Routers returns the admin router followed by the general private-chat
// router. The admin router must be included first.
func (h *Handler) Routers() []*bot.Router {
	admin := bot.NewRouter("admin", bot.ChatPrivate).
		Use(middlewares.AdminOnly(h.isAdmin)).
		Command("stats", "", h.handleStats).
		Command("export", "", h.handleExport).
		Command("extend", "", h.handleExtend)

	personal := bot.NewRouter("personal", bot.ChatPrivate).
		Command("start", "Start the bot", h.handleStart).
		Command("help", "Show help", h.handleHelp).
		Command("language", "Change language", h.handleLanguage).
		Command("profile", "Your profile", h.handleProfile).
		Command("cancel", "Cancel the current action", h.handleCancel).
		Callback(languageCallbackPrefix, h.handleLanguageCallback).
		State(StepAwaitingLanguage, h.handleLanguageInput).
		Text(bot.AnyMessage, h.handleUnknown)

	return []*bot.Router{admin, personal}
}

func (h *Handler) handleStart(c *bot.Context) error {
	name := bot.FullName(c.Sender)
	if c.User != nil && c.User.FullName != "" {
		name = c.User.FullName
	}
	return c.Reply(c.T("start", "name", name))
}

func (h *Handler) handleHelp(c *bot.Context) error {
	return c.Reply(c.T("help"))
}

func (h *Handler) handleUnknown(c *bot.Context) error {
	return c.Reply(c.T("unknown"))
}

func (h *Handler) handleCancel(c *bot.Context) error {
	state, err := c.State()
	if err != nil {
		return err
	}
	if state.Step == "" {
		return c.Reply(c.T("nothing_to_cancel"))
	}
	if err := c.ClearState(); err != nil {
		return err
	}
	return c.Reply(c.T("cancelled"))
}

func (h *Handler) handleLanguage(c *bot.Context) error {
	if err := c.SetStep(StepAwaitingLanguage); err != nil {
		return err
	}
	return c.ReplyWithMarkup(c.T("language_prompt"), languageKeyboard(c))
}

func languageKeyboard(c *bot.Context) tgbotapi.InlineKeyboardMarkup {
	catalog := c.Catalog()
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, lang := range catalog.Languages() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(catalog.T(lang, "language_name"), languageCallbackPrefix+lang),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) handleLanguageCallback(c *bot.Context) error {
	code := strings.TrimPrefix(c.CallbackData(), languageCallbackPrefix)
	ok, err := h.setLanguage(c, code)
	if err != nil {
		return err
	}
	if !ok {
		return c.Answer(c.T("language_unknown", "code", code, "available", available(c)))
	}
	if err := c.Answer(""); err != nil {
		return err
	}
	return c.Edit(c.T("language_set"))
}

func (h *Handler) handleLanguageInput(c *bot.Context) error {
	code := strings.TrimSpace(c.Text())
	ok, err := h.setLanguage(c, code)
	if err != nil {
		return err
	}
	if !ok {
		return c.Reply(c.T("language_unknown", "code", code, "available", available(c)))
	}
	return c.Reply(c.T("language_set"))
}

// setLanguage stores code for the sender and switches the context to it.
// It reports false when no catalog exists for code.
func (h *Handler) setLanguage(c *bot.Context, code string) (bool, error) {
	code = strings.ToLower(code)
	if code == "" || !c.Catalog().Has(code) {
		return false, nil
	}
	if err := h.storage.UpdateUserLanguage(c, c.SenderID(), code); err != nil {
		return false, fmt.Errorf("failed to update language: %w", err)
	}
	if err := c.ClearState(); err != nil {
		h.logger.Warn("Failed to clear state",
			zap.Int64("chat_id", c.ChatID()),
			zap.Error(err))
	}

	c.Lang = code
	if c.User != nil {
		c.User.LanguageCode = code
	}
	h.logger.Info("Language changed",
		zap.Int64("user_id", c.SenderID()),
		zap.String("language", code))
	return true, nil
}

func available(c *bot.Context) string {
	return strings.Join(c.Catalog().Languages(), ", ")
}

func (h *Handler) handleProfile(c *bot.Context) error {
	user := c.User
	if user == nil {
		var err error
		user, err = h.storage.GetUser(c, c.SenderID())
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
	}
	return c.Reply(h.renderProfile(c, user))
}

func (h *Handler) renderProfile(c *bot.Context, user *storage.User) string {
	username := "-"
	if user.Username != nil {
		username = "@" + *user.Username
	}
	status := c.T("subscription_expired")
	if user.SubscriptionActive(h.now()) {
		status = c.T("subscription_active")
	}
	return c.T("profile",
		"id", fmt.Sprint(user.ID),
		"username", username,
		"name", user.FullName,
		"language", c.Lang,
		"sub_end", user.SubEndDate.UTC().Format(dateLayout),
		"sub_status", status,
	)
}

func (h *Handler) handleStats(c *bot.Context) error {
	text, err := h.stats.Render(c, c.Catalog(), c.Lang)
	if err != nil {
		return err
	}
	return c.Reply(text)
}

func (h *Handler) handleExport(c *bot.Context) error {
	doc, err := h.stats.ExportDocument(c, c.ChatID(), h.now())
	if err != nil {
		return err
	}
	doc.Caption = c.T("admin_export_caption")
	_, err = c.Send(doc)
	return err
}

// handleExtend implements /extend <user_id> <days>.
func (h *Handler) handleExtend(c *bot.Context) error {
	userID, days, ok := parseExtendArgs(c.Args)
	if !ok {
		return c.Reply(c.T("admin_extend_usage"))
	}

	end, err := h.storage.ExtendSubscription(c, userID, time.Duration(days)*24*time.Hour)
	if errors.Is(err, storage.ErrUserNotFound) {
		return c.Reply(c.T("admin_user_not_found", "id", fmt.Sprint(userID)))
	}
	if err != nil {
		return fmt.Errorf("failed to extend subscription: %w", err)
	}

	h.logger.Info("Subscription extended",
		zap.Int64("admin_id", c.SenderID()),
		zap.Int64("user_id", userID),
		zap.Time("sub_end", end))
	return c.Reply(c.T("admin_extended", "id", fmt.Sprint(userID), "sub_end", end.UTC().Format(dateLayout)))
}
