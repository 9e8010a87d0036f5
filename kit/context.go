// Package kit carries the cross-transport plumbing: request context keys and
// the adapter that exposes an endpoint as an MCP tool. HTTP and MCP callers
// reach the same endpoints through it.
package kit

import "context"

type contextKey string

const (
	SenderKey    contextKey = "kit_sender"
	TransportKey contextKey = "kit_transport" // "http", "mcp", "browser"
	RequestIDKey contextKey = "kit_request_id"
)

func WithSender(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SenderKey, id)
}
func GetSender(ctx context.Context) string {
	v, _ := ctx.Value(SenderKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
