package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// connIDKey is the context key for the gateway connection id.
var connIDKey = contextKey{}

// WithConnID returns a new context carrying the gateway connection id used
// for log correlation across the receive/dispatch path.
func WithConnID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ConnID extracts the connection id from the context.
// Returns 0 if no connection id is set.
func ConnID(ctx context.Context) int64 {
	id, _ := ctx.Value(connIDKey).(int64)
	return id
}
