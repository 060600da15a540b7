package domain

import "context"

type ctxKey string

const connCtxKey ctxKey = "conn_id"

// ContextWithConnID returns a new context carrying the IPC connection ID (ULID).
func ContextWithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connCtxKey, connID)
}

// ConnIDFromContext extracts the IPC connection ID from the context.
// Returns empty string if not set.
func ConnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(connCtxKey).(string); ok {
		return v
	}
	return ""
}
