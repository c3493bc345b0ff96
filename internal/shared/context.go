package shared

import "context"

type contextKey string

const actorKey contextKey = "actor_id"

// ContextWithActor stores the acting user id on the request context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorKey).(int64); ok {
		return v
	}
	return 0
}
