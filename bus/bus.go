// Package bus routes typed messages to their handlers. Every transport into
// the daemon (HTTP, MCP, the browser binding) speaks the same message set;
// the bus is the single dispatch point behind them.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is one routed request: a type tag, the sender identity used for
// per-source bookkeeping, and the type-specific body.
type Message struct {
	Type   string          `json:"type"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler processes one message and returns an optional reply body.
type Handler func(ctx context.Context, msg Message) (any, error)

// Router dispatches messages by type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// Option customises a Router.
type Option func(*Router)

// WithLogger sets the router's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates an empty router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register binds a handler to a message type, replacing any previous one.
func (r *Router) Register(msgType string, h Handler) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Types returns the registered message types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Call dispatches a message and returns the handler's reply.
func (r *Router) Call(ctx context.Context, msg Message) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bus: unknown message type %q", msg.Type)
	}
	reply, err := h(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("bus: %s: %w", msg.Type, err)
	}
	return reply, nil
}

// Notify dispatches a message whose reply nobody waits for. Errors are
// logged, not returned; unknown types are logged and dropped.
func (r *Router) Notify(ctx context.Context, msg Message) {
	if _, err := r.Call(ctx, msg); err != nil {
		r.logger.Warn("notify failed", "type", msg.Type, "error", err)
	}
}
