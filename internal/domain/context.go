package domain

import "context"

type ctxKey string

const (
	turnCtxKey    ctxKey = "turn_id"
	projectCtxKey ctxKey = "project_id"
)

// ContextWithTurnID returns a new context carrying the turn ID (ULID).
func ContextWithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnCtxKey, turnID)
}

// TurnIDFromContext extracts the turn ID from the context.
// Returns empty string if not set.
func TurnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(turnCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithProjectID returns a new context carrying the project ID.
func ContextWithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectCtxKey, projectID)
}

// ProjectIDFromContext extracts the project ID from the context.
// Returns empty string if not set.
func ProjectIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(projectCtxKey).(string); ok {
		return v
	}
	return ""
}
