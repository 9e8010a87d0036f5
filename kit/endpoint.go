package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one transport-independent operation. The HTTP routes and MCP
// tools both terminate in an Endpoint, so cross-cutting concerns wrap it
// once instead of once per surface.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs each call with its transport and
// duration.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			logger.Debug("endpoint call",
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
				"error", err)
			return resp, err
		}
	}
}
