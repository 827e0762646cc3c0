package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Client is the part of *tgbotapi.BotAPI the bot needs.
type Client interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Options struct {
	Workers            int
	QueueSize          int
	DropPendingUpdates bool
	// WebhookURL is the full public URL Telegram posts updates to.
	WebhookURL string
}

type Bot struct {
	client     Client
	sender     Sender
	dispatcher *Dispatcher
	logger     *zap.Logger
	opts       Options

	incoming  chan tgbotapi.Update
	enqueuing atomic.Int64
	done      chan struct{}
	stopOnce  sync.Once
}

// ErrStopped is returned by Enqueue once the bot has shut down.
var ErrStopped = errors.New("bot stopped")

// New creates a bot. sender is used for outbound calls and is usually a
// RetryingSender around client.
func New(client Client, sender Sender, dispatcher *Dispatcher, logger *zap.Logger, opts Options) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	return &Bot{
		client:     client,
		sender:     sender,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		incoming:   make(chan tgbotapi.Update, opts.QueueSize),
		done:       make(chan struct{}),
	}
}

// Poll drops the webhook and processes long-polled updates until ctx is done.
func (b *Bot) Poll(ctx context.Context) error {
	if _, err := b.sender.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: b.opts.DropPendingUpdates,
	}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = AllowedUpdates
	updates := b.client.GetUpdatesChan(u)

	b.logger.Info("Starting long polling",
		zap.Int("workers", b.opts.Workers),
		zap.Bool("drop_pending_updates", b.opts.DropPendingUpdates))

	// Stopping closes updates, which ends the drain in Run.
	stop := context.AfterFunc(ctx, b.client.StopReceivingUpdates)
	defer stop()

	return b.Run(ctx, updates)
}

// Listen registers the webhook and processes updates pushed through Enqueue
// until ctx is done.
func (b *Bot) Listen(ctx context.Context) error {
	wh, err := tgbotapi.NewWebhook(b.opts.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to build webhook config: %w", err)
	}
	wh.AllowedUpdates = AllowedUpdates
	wh.DropPendingUpdates = b.opts.DropPendingUpdates

	if _, err := b.sender.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	b.logger.Info("Webhook registered",
		zap.String("url", redactURL(b.opts.WebhookURL)),
		zap.Int("workers", b.opts.Workers))

	return b.run(ctx, b.incoming, b.drainIncoming)
}

// Enqueue hands a webhook update to the worker pool. It blocks while the
// intake queue is full. An accepted update is handled even if the bot is
// stopping.
func (b *Bot) Enqueue(ctx context.Context, update tgbotapi.Update) error {
	b.enqueuing.Add(1)
	defer b.enqueuing.Add(-1)

	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	select {
	case b.incoming <- update:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run fans updates out to the worker pool. Updates of one chat always land
// on the same worker, so they are handled in arrival order. Once ctx is
// done Run keeps reading updates until the source closes it, so the source
// must close updates after cancellation. Run returns when every received
// update has been handled.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	return b.run(ctx, updates, func(deliver func(tgbotapi.Update)) {
		for u := range updates {
			deliver(u)
		}
	})
}

func (b *Bot) run(ctx context.Context, updates <-chan tgbotapi.Update, drain func(deliver func(tgbotapi.Update))) error {
	defer b.stop()

	handlerCtx := context.WithoutCancel(ctx)
	queues := make([]chan tgbotapi.Update, b.opts.Workers)

	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, b.opts.QueueSize)
		wg.Add(1)
		go func(q <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range q {
				b.handle(handlerCtx, u)
			}
		}(queues[i])
	}

	// Blocks on a full queue even after cancellation: a received update
	// has already been acknowledged to Telegram.
	deliver := func(u tgbotapi.Update) {
		queues[b.shard(u)] <- u
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u, ok := <-updates:
			if !ok {
				break loop
			}
			deliver(u)
		}
	}

	b.stop()
	b.logger.Info("Draining buffered updates")
	drain(deliver)

	for _, q := range queues {
		close(q)
	}
	wg.Wait()

	b.logger.Info("Bot stopped")
	return nil
}

// stop makes Enqueue refuse new updates.
func (b *Bot) stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// drainIncoming empties the webhook intake after stop, including updates
// from Enqueue calls that were already past the stop check.
func (b *Bot) drainIncoming(deliver func(tgbotapi.Update)) {
	for {
		select {
		case u := <-b.incoming:
			deliver(u)
			continue
		default:
		}

		if b.enqueuing.Load() == 0 && len(b.incoming) == 0 {
			return
		}

		select {
		case u := <-b.incoming:
			deliver(u)
		case <-time.After(time.Millisecond):
		}
	}
}

func (b *Bot) shard(u tgbotapi.Update) int {
	_, chat, from := Classify(u)
	var key int64
	switch {
	case chat != nil:
		key = chat.ID
	case from != nil:
		key = from.ID
	}
	if key < 0 {
		key = -key
	}
	return int(key % int64(b.opts.Workers))
}

func (b *Bot) handle(ctx context.Context, u tgbotapi.Update) {
	err := b.dispatcher.Dispatch(ctx, u)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotHandled):
		b.logger.Debug("Update not handled", zap.Int("update_id", u.UpdateID))
	default:
		b.logger.Error("Failed to process update",
			zap.Int("update_id", u.UpdateID),
			zap.Error(err))
	}
}

// PublishCommands sets the command menus for every scope routers declared.
func (b *Bot) PublishCommands() error {
	for scope, infos := range b.dispatcher.Commands() {
		commands := make([]tgbotapi.BotCommand, 0, len(infos))
		for _, info := range infos {
			commands = append(commands, tgbotapi.BotCommand{
				Command:     info.Name,
				Description: info.Description,
			})
		}

		cfg := tgbotapi.NewSetMyCommandsWithScope(scopeConfig(scope), commands...)
		if _, err := b.sender.Request(cfg); err != nil {
			return fmt.Errorf("failed to set commands for %s: %w", scope, err)
		}
		b.logger.Debug("Published commands",
			zap.String("scope", string(scope)),
			zap.Int("count", len(commands)))
	}
	return nil
}

func scopeConfig(scope CommandScope) tgbotapi.BotCommandScope {
	switch scope {
	case ScopePrivate:
		return tgbotapi.NewBotCommandScopeAllPrivateChats()
	case ScopeGroups:
		return tgbotapi.NewBotCommandScopeAllGroupChats()
	}
	return tgbotapi.NewBotCommandScopeDefault()
}

// redactURL hides the secret path suffix of a webhook URL in logs.
func redactURL(u string) string {
	i := strings.LastIndex(u, "/")
	if i < 0 || i == len(u)-1 {
		return u
	}
	return u[:i+1] + "***"
}
