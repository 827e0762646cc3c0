// Package app assembles the bot from fx modules and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/bot"
	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/internal/scheduler"
	"groupkeeper-bot/internal/server"
)

type Application struct {
	app *fx.App
}

// Modules is the full production graph.
func Modules() fx.Option {
	return fx.Options(
		ConfigModule,
		LoggerModule,
		StorageModule,
		BotModule,
		ServiceModule,
	)
}

func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))
	return &Application{app: fx.New(options...)}
}

// Err reports a failure while building the dependency graph.
func (a *Application) Err() error {
	return a.app.Err()
}

func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Done is closed on a termination signal or when a component asks the
// application to shut down.
func (a *Application) Done() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

type hookParams struct {
	fx.In
	Cfg        *config.Config
	Bot        *bot.Bot
	Sender     *bot.RetryingSender
	Server     *server.Server
	Scheduler  *scheduler.Scheduler
	Shutdowner fx.Shutdowner
	Logger     *zap.Logger
}

// registerLifecycleHooks starts the HTTP server, the scheduler and the
// update loop.
func registerLifecycleHooks(lc fx.Lifecycle, p hookParams) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Logger.Info("Starting application", zap.String("mode", p.Cfg.Mode))

			if err := p.Server.Start(); err != nil {
				cancel()
				return err
			}

			if err := p.Bot.PublishCommands(); err != nil {
				p.Logger.Warn("Failed to publish bot commands", zap.Error(err))
			}

			p.Scheduler.Start(runCtx)

			go func() {
				defer close(done)
				if err := run(runCtx, p.Cfg.Mode, p.Bot); err != nil && !errors.Is(err, context.Canceled) {
					p.Logger.Error("Update loop stopped", zap.Error(err))
					if err := p.Shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
						p.Logger.Error("Failed to request shutdown", zap.Error(err))
					}
				}
			}()

			p.Logger.Info("Application started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Stopping application")

			// No new webhook deliveries while the queues drain.
			serverErr := p.Server.Shutdown(ctx)
			cancel()

			// Rate-limit waits must not outlive the stop budget.
			stopRetries := context.AfterFunc(ctx, p.Sender.Stop)
			defer stopRetries()

			select {
			case <-done:
			case <-ctx.Done():
				return fmt.Errorf("update loop did not drain: %w", ctx.Err())
			}

			p.Scheduler.Stop()
			return serverErr
		},
	})
}

func run(ctx context.Context, mode string, b *bot.Bot) error {
	if mode == config.ModeWebhook {
		return b.Listen(ctx)
	}
	return b.Poll(ctx)
}
