package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/bot/handlers/channel"
	"groupkeeper-bot/internal/bot/handlers/group"
	"groupkeeper-bot/internal/bot/handlers/personal"
	"groupkeeper-bot/internal/bot/middlewares"
	"groupkeeper-bot/internal/bot/throttle"
	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/internal/locale"
	"groupkeeper-bot/internal/scheduler"
	"groupkeeper-bot/internal/server"
	"groupkeeper-bot/internal/storage"
	"groupkeeper-bot/pkg/logger"
	"groupkeeper-bot/pkg/redis"
)

// ConfigModule loads configuration from the environment.
var ConfigModule = fx.Module("config",
	fx.Provide(config.Load),
)

var LoggerModule = fx.Module("logger",
	fx.Provide(NewLogger),
)

// StorageModule provides the database, the key/value store and the
// repository built on both.
var StorageModule = fx.Module("storage",
	fx.Provide(
		NewDatabase,
		NewKeyValue,
		NewStorage,
	),
)

var BotModule = fx.Module("bot",
	fx.Provide(
		NewCatalog,
		NewLimiter,
		NewBotAPI,
		NewSender,
		asSender,
		NewStatsReporter,
		NewDispatcher,
		NewBot,
	),
)

var ServiceModule = fx.Module("services",
	fx.Provide(
		NewScheduler,
		NewServer,
	),
)

// KeyValue backs dialog state and the user cache. It is Redis when
// REDIS_ADDR is set and an in-process map otherwise.
type KeyValue interface {
	bot.KV
	Ping(ctx context.Context) error
	Close() error
}

type LoggerParams struct {
	fx.In
	Cfg *config.Config
	LC  fx.Lifecycle
}

func NewLogger(params LoggerParams) (*zap.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:  params.Cfg.Log.Level,
		Format: params.Cfg.Log.Format,
		File:   params.Cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	if err := tgbotapi.SetLogger(logger.NewBotLogger(log)); err != nil {
		return nil, fmt.Errorf("failed to set bot api logger: %w", err)
	}

	params.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// stderr sync returns EINVAL on most terminals
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

type DatabaseParams struct {
	fx.In
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

// NewDatabase connects and migrates the schema before anything else starts.
func NewDatabase(params DatabaseParams) (*storage.Storage, error) {
	ctx := context.Background()
	cfg := params.Cfg.Database

	db, err := storage.Connect(ctx, cfg, params.Logger)
	if err != nil {
		return nil, err
	}

	if err := storage.RunMigrations(ctx, db.DB, cfg.Driver, params.Logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := storage.New(db, params.Logger)
	params.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			params.Logger.Info("Closing database")
			return s.Close()
		},
	})
	return s, nil
}

type KeyValueParams struct {
	fx.In
	Cfg    *config.Config
	LC     fx.Lifecycle
	Logger *zap.Logger
}

func NewKeyValue(params KeyValueParams) (KeyValue, error) {
	cfg := params.Cfg.Redis
	if !cfg.Enabled() {
		params.Logger.Warn("REDIS_ADDR is not set, dialog state is kept in memory")
		return redis.NewMemory(), nil
	}

	client := redis.New(cfg.Addr, cfg.Password, cfg.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	params.Logger.Info("Connected to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	params.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

type StorageParams struct {
	fx.In
	Cfg      *config.Config
	Database *storage.Storage
	KV       KeyValue
	Logger   *zap.Logger
}

// Repository is the storage used by handlers. The user cache is only
// enabled on Redis so that the in-memory store does not grow unbounded.
type Repository struct {
	*storage.Storage
}

func NewStorage(params StorageParams) *Repository {
	if !params.Cfg.Redis.Enabled() {
		return &Repository{Storage: params.Database}
	}
	return &Repository{Storage: storage.New(params.Database.DB(), params.Logger,
		storage.WithCache(params.KV, params.Cfg.Redis.CacheTTL))}
}

func NewCatalog(cfg *config.Config) (*locale.Catalog, error) {
	return locale.Load(cfg.Locale.Dir, cfg.Locale.Fallback)
}

func NewLimiter(cfg *config.Config) (*throttle.Limiter, error) {
	return throttle.New(throttle.Options{
		InitialRPS:     cfg.Throttle.InitialRPS,
		MaxRPS:         cfg.Throttle.MaxRPS,
		MinRPS:         cfg.Throttle.MinRPS,
		CacheSize:      cfg.Throttle.CacheSize,
		PressureWindow: cfg.Throttle.PressureWindow,
	})
}

func NewBotAPI(cfg *config.Config, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	api.Debug = cfg.Debug

	logger.Info("Authorized on account", zap.String("username", api.Self.UserName))
	return api, nil
}

func NewSender(api *tgbotapi.BotAPI, logger *zap.Logger) *bot.RetryingSender {
	return bot.NewRetryingSender(api, logger)
}

func asSender(s *bot.RetryingSender) bot.Sender {
	return s
}

func NewStatsReporter(repo *Repository, limiter *throttle.Limiter) *personal.StatsReporter {
	return personal.NewStatsReporter(repo, limiter)
}

type DispatcherParams struct {
	fx.In
	Cfg      *config.Config
	API      *tgbotapi.BotAPI
	Sender   bot.Sender
	KV       KeyValue
	Repo     *Repository
	Catalog  *locale.Catalog
	Limiter  *throttle.Limiter
	Reporter *personal.StatsReporter
	Logger   *zap.Logger
}

// NewDispatcher assembles the middleware chain and the routers. Order
// matters: the admin router precedes the personal one, groups and channels
// come last.
func NewDispatcher(params DispatcherParams) *bot.Dispatcher {
	log := params.Logger
	states := bot.NewStateStorage(params.KV, params.Cfg.Redis.StateTTL)

	d := bot.NewDispatcher(params.Sender, states, params.Catalog, log)
	d.SetUsername(params.API.Self.UserName)

	d.Use(
		middlewares.Recover(log),
		middlewares.Logging(log),
		middlewares.Throttle(params.Limiter, log),
		middlewares.Auth(params.Repo, log),
		middlewares.I18n(params.Catalog),
	)

	d.Include(personal.New(params.Repo, params.Reporter, params.Cfg.IsAdmin, log).Routers()...)
	d.Include(
		group.New(params.Repo, log).Router(),
		channel.New(params.Repo, log).Router(),
	)
	return d
}

func NewBot(cfg *config.Config, api *tgbotapi.BotAPI, sender bot.Sender, d *bot.Dispatcher, logger *zap.Logger) *bot.Bot {
	opts := bot.Options{
		Workers:            cfg.Workers,
		QueueSize:          cfg.QueueSize,
		DropPendingUpdates: cfg.DropPendingUpdates,
	}
	if cfg.Mode == config.ModeWebhook {
		opts.WebhookURL = cfg.HTTP.WebhookEndpoint()
	}
	return bot.New(api, sender, d, logger, opts)
}

type SchedulerParams struct {
	fx.In
	Cfg      *config.Config
	Repo     *Repository
	Sender   bot.Sender
	Catalog  *locale.Catalog
	Limiter  *throttle.Limiter
	Reporter *personal.StatsReporter
	Logger   *zap.Logger
}

func NewScheduler(params SchedulerParams) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(params.Cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	s := scheduler.New(loc, params.Logger.Named("scheduler"))
	s.Every("throttle-report", time.Minute, throttleReport(params.Limiter, params.Logger))

	report := dailyReport(params.Cfg.AdminIDs, params.Repo, params.Reporter, params.Catalog, params.Sender, params.Logger)
	if err := s.DailyAt("daily-report", params.Cfg.Scheduler.DailyReportAt, report); err != nil {
		return nil, err
	}
	return s, nil
}

func throttleReport(limiter *throttle.Limiter, logger *zap.Logger) scheduler.Job {
	return func(context.Context) error {
		p := limiter.Parameters()
		logger.Info("Throttle parameters",
			zap.Float64("rps", p.RPS),
			zap.Float64("burst_capacity", p.BurstCapacity),
			zap.Float64("burst_factor", p.BurstFactor),
			zap.Float64("pressure", p.Pressure),
			zap.Float64("cache_usage", p.CacheUsage))
		return nil
	}
}

type userLookup interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
}

// dailyReport sends the statistics to every admin in the admin's language.
// Delivery failures are logged per admin and do not stop the others.
func dailyReport(admins []int64, users userLookup, reporter *personal.StatsReporter, catalog *locale.Catalog, sender bot.Sender, logger *zap.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		if len(admins) == 0 {
			return nil
		}

		var failed int
		for _, id := range admins {
			lang := catalog.Fallback()
			if u, err := users.GetUser(ctx, id); err == nil {
				lang = catalog.Resolve(u.LanguageCode)
			}

			text, err := reporter.DailyReport(ctx, catalog, lang)
			if err != nil {
				return fmt.Errorf("failed to build daily report: %w", err)
			}

			if _, err := sender.Send(tgbotapi.NewMessage(id, text)); err != nil {
				failed++
				logger.Warn("Failed to deliver daily report",
					zap.Int64("admin_id", id),
					zap.Error(err))
			}
		}

		if failed == len(admins) {
			return fmt.Errorf("daily report was not delivered to any of %d admins", failed)
		}
		return nil
	}
}

type ServerParams struct {
	fx.In
	Cfg    *config.Config
	Bot    *bot.Bot
	DB     *storage.Storage
	KV     KeyValue
	Logger *zap.Logger
}

func NewServer(params ServerParams) *server.Server {
	checks := map[string]server.Checker{"database": params.DB}
	if params.Cfg.Redis.Enabled() {
		checks["redis"] = params.KV
	}

	var sink server.UpdateSink
	if params.Cfg.Mode == config.ModeWebhook {
		sink = params.Bot
	}
	return server.New(params.Cfg.HTTP, sink, checks, params.Logger.Named("http"))
}
