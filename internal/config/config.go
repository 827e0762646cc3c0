package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	BotToken           string  `env:"BOT_TOKEN,required"`
	Mode               string  `env:"BOT_MODE" envDefault:"polling"`
	DropPendingUpdates bool    `env:"DROP_PENDING_UPDATES" envDefault:"true"`
	Workers            int     `env:"WORKERS" envDefault:"8"`
	QueueSize          int     `env:"QUEUE_SIZE" envDefault:"64"`
	AdminIDs           []int64 `env:"ADMIN_IDS" envSeparator:","`
	Debug              bool    `env:"BOT_DEBUG" envDefault:"false"`

	Log       Log
	Locale    Locale
	Scheduler Scheduler
	Database  Database
	Redis     Redis
	HTTP      HTTP
	Throttle  Throttle
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
	File   string `env:"LOG_FILE"`
}

type Locale struct {
	Dir      string `env:"LOCALE_DIR"`
	Fallback string `env:"LOCALE_FALLBACK" envDefault:"en"`
}

type Scheduler struct {
	Timezone      string `env:"SCHEDULER_TIMEZONE" envDefault:"Europe/Moscow"`
	DailyReportAt string `env:"DAILY_REPORT_AT" envDefault:"09:00"`
}

type Database struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PSWD" envDefault:"postgres"`
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	Name            string        `env:"DB_NAME" envDefault:"postgres"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	Path            string        `env:"DB_PATH" envDefault:"groupkeeper.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"2m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"2m"`
}

// DSN returns the driver-specific data source name.
func (d Database) DSN() string {
	if d.Driver == DriverSQLite {
		return d.Path + "?_foreign_keys=on"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	StateTTL time.Duration `env:"STATE_TTL" envDefault:"24h"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// Enabled reports whether a Redis address was configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	WebhookURL      string        `env:"WEBHOOK_URL"`
	WebhookPath     string        `env:"WEBHOOK_PATH" envDefault:"/telegram/webhook"`
	WebhookSecret   string        `env:"WEBHOOK_SECRET"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// WebhookRoute is the path the HTTP server accepts updates on. A configured
// secret becomes the last path segment.
func (h HTTP) WebhookRoute() string {
	route := "/" + strings.Trim(h.WebhookPath, "/")
	if h.WebhookSecret != "" {
		route += "/" + h.WebhookSecret
	}
	return route
}

// WebhookEndpoint is the public URL registered with Telegram.
func (h HTTP) WebhookEndpoint() string {
	return strings.TrimRight(h.WebhookURL, "/") + h.WebhookRoute()
}

type Throttle struct {
	InitialRPS     float64       `env:"THROTTLE_INITIAL_RPS" envDefault:"10"`
	MaxRPS         float64       `env:"THROTTLE_MAX_RPS" envDefault:"80"`
	MinRPS         float64       `env:"THROTTLE_MIN_RPS" envDefault:"4"`
	CacheSize      int           `env:"THROTTLE_CACHE_SIZE" envDefault:"25000"`
	PressureWindow time.Duration `env:"THROTTLE_PRESSURE_WINDOW" envDefault:"60s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.HTTP.WebhookURL == "" {
			return errors.New("WEBHOOK_URL is required in webhook mode")
		}
	default:
		return fmt.Errorf("unknown BOT_MODE %q", c.Mode)
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.Workers <= 0 {
		return errors.New("WORKERS must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("QUEUE_SIZE must be positive")
	}

	t := c.Throttle
	if t.MinRPS <= 0 || t.MinRPS > t.MaxRPS {
		return fmt.Errorf("throttle bounds are inconsistent: min=%v max=%v", t.MinRPS, t.MaxRPS)
	}
	if t.CacheSize <= 0 {
		return errors.New("THROTTLE_CACHE_SIZE must be positive")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("bad SCHEDULER_TIMEZONE: %w", err)
	}
	if _, err := time.Parse("15:04", c.Scheduler.DailyReportAt); err != nil {
		return fmt.Errorf("bad DAILY_REPORT_AT: %w", err)
	}

	return nil
}

// IsAdmin reports whether userID is listed in ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
