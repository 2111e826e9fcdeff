package bot

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/handlers"
)

type callbackRoute struct {
	prefix  string
	handler handlers.CallbackHandler
}

// Router resolves an update to a command, callback or state handler and runs it through
// the middleware chain. Free text goes to the Dispatcher.
type Router struct {
	mu          sync.RWMutex
	commands    map[string]handlers.Handler
	texts       map[string]handlers.Handler
	callbacks   []callbackRoute
	fallback    handlers.Handler
	middlewares []handlers.Middleware
	dispatcher  *Dispatcher
	log         *slog.Logger
}

// NewRouter builds a Router with empty registries.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		commands:   make(map[string]handlers.Handler),
		texts:      make(map[string]handlers.Handler),
		dispatcher: dispatcher,
		log:        log,
	}
}

// RegisterCommand binds a handler to "/cmd". Names are matched case-insensitively.
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd)] = h
}

// RegisterText binds a handler to an exact message text, such as a reply keyboard label.
// Text handlers take precedence over state dispatch.
func (r *Router) RegisterText(text string, h handlers.Handler) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts[text] = h
}

// RegisterCallback binds a handler to callback data starting with prefix. The longest
// matching prefix wins.
func (r *Router) RegisterCallback(prefix string, h handlers.CallbackHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.callbacks {
		if r.callbacks[i].prefix == prefix {
			r.callbacks[i].handler = h
			return
		}
	}
	r.callbacks = append(r.callbacks, callbackRoute{prefix: prefix, handler: h})
	sort.SliceStable(r.callbacks, func(i, j int) bool {
		return len(r.callbacks[i].prefix) > len(r.callbacks[j].prefix)
	})
}

// Use appends a middleware. The first registered middleware runs outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// SetDefault sets the handler for unknown commands.
func (r *Router) SetDefault(h handlers.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Route is the telebot entry point for text and callback updates.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}

	h, route := r.resolve(c)
	if h == nil {
		r.log.Debug("update not routed", slog.String("route", route))
		return nil
	}

	return r.chain(h)(c)
}

func (r *Router) resolve(c telebot.Context) (handlers.Handler, string) {
	if cb := c.Callback(); cb != nil {
		data := strings.TrimSpace(cb.Data)
		if h := r.callback(data); h != nil {
			return handlers.Handler(h), "callback"
		}
		return nil, "callback:" + data
	}

	if cmd, ok := commandName(strings.TrimSpace(c.Text())); ok {
		r.mu.RLock()
		h, found := r.commands[cmd]
		fallback := r.fallback
		r.mu.RUnlock()
		if found {
			return h, cmd
		}
		return fallback, "unknown_command"
	}

	r.mu.RLock()
	h, found := r.texts[strings.TrimSpace(c.Text())]
	r.mu.RUnlock()
	if found {
		return h, "menu"
	}

	if r.dispatcher == nil {
		return nil, "text"
	}
	return r.dispatcher.Dispatch, "text"
}

func (r *Router) callback(data string) handlers.CallbackHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.callbacks {
		if strings.HasPrefix(data, route.prefix) {
			return route.handler
		}
	}
	return nil
}

func (r *Router) chain(h handlers.Handler) handlers.Handler {
	r.mu.RLock()
	mws := append([]handlers.Middleware(nil), r.middlewares...)
	r.mu.RUnlock()

	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// commandName extracts "/cmd" from "/cmd@botname args".
func commandName(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	cmd, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	return strings.ToLower(cmd), true
}
