package bot

import (
	"strings"
)

type HandlerFunc func(c *Context) error

type Middleware func(next HandlerFunc) HandlerFunc

// Filter decides whether a message handler applies to an update.
type Filter func(c *Context) bool

// AnyMessage matches every message.
func AnyMessage(*Context) bool { return true }

// HasText matches messages with non-empty text.
func HasText(c *Context) bool { return c.Text() != "" }

// HasNewMembers matches service messages announcing joined users.
func HasNewMembers(c *Context) bool {
	m := c.Message()
	return m != nil && len(m.NewChatMembers) > 0
}

// IsMigration matches the service message sent when a group becomes a
// supergroup.
func IsMigration(c *Context) bool {
	m := c.Message()
	return m != nil && m.MigrateToChatID != 0
}

type CommandInfo struct {
	Name        string
	Description string
}

type textHandler struct {
	filter Filter
	fn     HandlerFunc
}

type callbackHandler struct {
	prefix string
	fn     HandlerFunc
}

// Router groups handlers for a set of chat types. An empty chat type list
// matches every chat.
type Router struct {
	name      string
	chatTypes []ChatType

	commands     map[string]HandlerFunc
	commandInfo  []CommandInfo
	texts        []textHandler
	callbacks    []callbackHandler
	states       map[string]HandlerFunc
	members      []HandlerFunc
	channelPosts []HandlerFunc

	middlewares []Middleware
}

func NewRouter(name string, chatTypes ...ChatType) *Router {
	return &Router{
		name:      name,
		chatTypes: chatTypes,
		commands:  make(map[string]HandlerFunc),
		states:    make(map[string]HandlerFunc),
	}
}

func (r *Router) Name() string {
	return r.name
}

// Command registers a /name handler. Commands with an empty description
// are not published in the command menu.
func (r *Router) Command(name, description string, fn HandlerFunc) *Router {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	r.commands[name] = fn
	if description != "" {
		r.commandInfo = append(r.commandInfo, CommandInfo{Name: name, Description: description})
	}
	return r
}

func (r *Router) Text(filter Filter, fn HandlerFunc) *Router {
	r.texts = append(r.texts, textHandler{filter: filter, fn: fn})
	return r
}

// Callback registers a handler for callback data starting with prefix.
func (r *Router) Callback(prefix string, fn HandlerFunc) *Router {
	r.callbacks = append(r.callbacks, callbackHandler{prefix: prefix, fn: fn})
	return r
}

// State registers a handler for plain messages sent while the chat's dialog
// is at step.
func (r *Router) State(step string, fn HandlerFunc) *Router {
	r.states[step] = fn
	return r
}

// ChatMember handles my_chat_member and chat_member updates.
func (r *Router) ChatMember(fn HandlerFunc) *Router {
	r.members = append(r.members, fn)
	return r
}

// ChannelPost handles new and edited channel posts.
func (r *Router) ChannelPost(fn HandlerFunc) *Router {
	r.channelPosts = append(r.channelPosts, fn)
	return r
}

func (r *Router) Use(mw ...Middleware) *Router {
	r.middlewares = append(r.middlewares, mw...)
	return r
}

func (r *Router) Commands() []CommandInfo {
	return r.commandInfo
}

// Scope names the command menu the router's commands belong to.
func (r *Router) Scope() CommandScope {
	private, group := false, false
	for _, t := range r.chatTypes {
		switch t {
		case ChatPrivate:
			private = true
		case ChatGroup, ChatSupergroup:
			group = true
		}
	}
	switch {
	case private && !group:
		return ScopePrivate
	case group && !private:
		return ScopeGroups
	}
	return ScopeDefault
}

func (r *Router) acceptsChat(c *Context) bool {
	if len(r.chatTypes) == 0 {
		return true
	}
	for _, t := range r.chatTypes {
		if c.ChatType() == t {
			return true
		}
	}
	return false
}

// match returns the handler for c, wrapped in the router's middlewares, or
// nil when the router does not handle it.
func (r *Router) match(c *Context) HandlerFunc {
	if !r.acceptsChat(c) {
		return nil
	}

	fn := r.find(c)
	if fn == nil {
		return nil
	}
	return chain(fn, r.middlewares)
}

func (r *Router) find(c *Context) HandlerFunc {
	switch c.Event {
	case EventCommand:
		if fn, ok := r.commands[c.Command]; ok {
			return fn
		}
		return r.findText(c)
	case EventMessage:
		if len(r.states) > 0 {
			if st, err := c.State(); err == nil && st.Step != "" {
				if fn, ok := r.states[st.Step]; ok {
					return fn
				}
			}
		}
		return r.findText(c)
	case EventCallback:
		data := c.CallbackData()
		for _, h := range r.callbacks {
			if strings.HasPrefix(data, h.prefix) {
				return h.fn
			}
		}
	case EventMyChatMember, EventChatMember:
		if len(r.members) > 0 {
			return fanOut(r.members)
		}
	case EventChannelPost, EventEditedChannelPost:
		if len(r.channelPosts) > 0 {
			return fanOut(r.channelPosts)
		}
	}
	return nil
}

func (r *Router) findText(c *Context) HandlerFunc {
	for _, h := range r.texts {
		if h.filter(c) {
			return h.fn
		}
	}
	return nil
}

// fanOut runs every handler in order and stops at the first error.
func fanOut(fns []HandlerFunc) HandlerFunc {
	if len(fns) == 1 {
		return fns[0]
	}
	return func(c *Context) error {
		for _, fn := range fns {
			if err := fn(c); err != nil {
				return err
			}
		}
		return nil
	}
}

// chain wraps fn so that mws[0] runs first.
func chain(fn HandlerFunc, mws []Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](fn)
	}
	return fn
}
