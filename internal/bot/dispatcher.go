package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/locale"
)

// ErrNotHandled is returned by Dispatch when no router accepted the update.
var ErrNotHandled = errors.New("update not handled")

type CommandScope string

const (
	ScopeDefault CommandScope = "default"
	ScopePrivate CommandScope = "all_private_chats"
	ScopeGroups  CommandScope = "all_group_chats"
)

// Dispatcher routes updates through global middlewares into the first
// router that accepts them.
type Dispatcher struct {
	routers     []*Router
	middlewares []Middleware

	username string
	api      Sender
	catalog  *locale.Catalog
	states   *StateStorage
	logger   *zap.Logger
}

func NewDispatcher(api Sender, states *StateStorage, catalog *locale.Catalog, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		api:     api,
		states:  states,
		catalog: catalog,
		logger:  logger,
	}
}

// SetUsername sets the bot's own username so that commands addressed to
// other bots can be ignored.
func (d *Dispatcher) SetUsername(username string) {
	d.username = username
}

func (d *Dispatcher) Include(routers ...*Router) {
	d.routers = append(d.routers, routers...)
}

func (d *Dispatcher) Use(mw ...Middleware) {
	d.middlewares = append(d.middlewares, mw...)
}

// Commands groups the published commands of all routers by menu scope,
// keeping registration order.
func (d *Dispatcher) Commands() map[CommandScope][]CommandInfo {
	out := make(map[CommandScope][]CommandInfo)
	for _, r := range d.routers {
		if cmds := r.Commands(); len(cmds) > 0 {
			scope := r.Scope()
			out[scope] = append(out[scope], cmds...)
		}
	}
	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	c := d.newContext(ctx, update)

	if c.Event == EventCommand && !d.addressedToUs(update.Message) {
		return ErrNotHandled
	}

	return chain(d.route, d.middlewares)(c)
}

func (d *Dispatcher) newContext(ctx context.Context, update tgbotapi.Update) *Context {
	event, chat, sender := Classify(update)
	c := &Context{
		Context: ctx,
		Update:  update,
		Event:   event,
		Chat:    chat,
		Sender:  sender,
		api:     d.api,
		catalog: d.catalog,
		states:  d.states,
		logger:  d.logger,
	}
	if d.catalog != nil {
		c.Lang = d.catalog.Fallback()
	}
	if event == EventCommand {
		c.Command = strings.ToLower(update.Message.Command())
		c.Args = strings.TrimSpace(update.Message.CommandArguments())
	}
	return c
}

func (d *Dispatcher) addressedToUs(msg *tgbotapi.Message) bool {
	_, at, found := strings.Cut(msg.CommandWithAt(), "@")
	if !found || at == "" {
		return true
	}
	return d.username != "" && strings.EqualFold(at, d.username)
}

func (d *Dispatcher) route(c *Context) error {
	for _, r := range d.routers {
		if fn := r.match(c); fn != nil {
			return fn(c)
		}
	}
	return ErrNotHandled
}
