package personal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"groupkeeper-bot/internal/bot/throttle"
	"groupkeeper-bot/internal/locale"
)

type Stats interface {
	CountUsers(ctx context.Context) (int, error)
	CountChats(ctx context.Context) (map[string]int, error)
	ExportUsers(ctx context.Context, w io.Writer) error
}

type ThrottleParameters interface {
	Parameters() throttle.Parameters
}

// StatsReporter renders admin statistics. It backs /stats, /export and the
// scheduled daily report.
type StatsReporter struct {
	stats   Stats
	limiter ThrottleParameters
}

func NewStatsReporter(stats Stats, limiter ThrottleParameters) *StatsReporter {
	return &StatsReporter{stats: stats, limiter: limiter}
}

func (r *StatsReporter) Render(ctx context.Context, catalog *locale.Catalog, lang string) (string, error) {
	users, err := r.stats.CountUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count users: %w", err)
	}
	chats, err := r.stats.CountChats(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count chats: %w", err)
	}

	var p throttle.Parameters
	if r.limiter != nil {
		p = r.limiter.Parameters()
	}

	return catalog.T(lang, "admin_stats",
		"users", strconv.Itoa(users),
		"groups", strconv.Itoa(chats["group"]),
		"supergroups", strconv.Itoa(chats["supergroup"]),
		"channels", strconv.Itoa(chats["channel"]),
		"rps", fmt.Sprintf("%.1f", p.RPS),
		"burst", fmt.Sprintf("%.1f", p.BurstCapacity),
		"pressure", fmt.Sprintf("%.2f", p.Pressure),
	), nil
}

// DailyReport is Render with a heading.
func (r *StatsReporter) DailyReport(ctx context.Context, catalog *locale.Catalog, lang string) (string, error) {
	body, err := r.Render(ctx, catalog, lang)
	if err != nil {
		return "", err
	}
	return catalog.T(lang, "admin_daily_report") + "\n\n" + body, nil
}

// ExportDocument builds the users spreadsheet as a document for chatID.
func (r *StatsReporter) ExportDocument(ctx context.Context, chatID int64, now time.Time) (tgbotapi.DocumentConfig, error) {
	var buf bytes.Buffer
	if err := r.stats.ExportUsers(ctx, &buf); err != nil {
		return tgbotapi.DocumentConfig{}, fmt.Errorf("failed to export users: %w", err)
	}

	file := tgbotapi.FileBytes{
		Name:  fmt.Sprintf("users_report_%s.xlsx", now.Format("20060102")),
		Bytes: buf.Bytes(),
	}
	return tgbotapi.NewDocument(chatID, file), nil
}

func parseExtendArgs(args string) (userID int64, days int, ok bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	days, err = strconv.Atoi(fields[1])
	if err != nil || days <= 0 {
		return 0, 0, false
	}
	return userID, days, true
}
