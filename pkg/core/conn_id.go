package core

import (
	"context"

	"github.com/google/uuid"
)

// connIDKey is the context key for the connection id
type connIDKey struct{}

// WithConnID adds a connection id to the context
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

// GetConnID retrieves the connection id from context
func GetConnID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(connIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new random id for connections and tasks
func NewID() string {
	return uuid.New().String()
}
