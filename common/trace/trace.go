// Package trace provides message-scoped trace IDs and context propagation so
// that log lines emitted while handling one inbound chat message can be
// correlated across the rate limiter, memory manager, and model call.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// NewID generates a unique trace ID for one inbound message.
func NewID() string {
	bytes := make([]byte, 12)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand should never fail; fall back to a UUID so message
		// handling keeps working regardless.
		return "msg_" + uuid.NewString()
	}
	return "msg_" + hex.EncodeToString(bytes)
}

// WithID returns a child context carrying the given trace ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
