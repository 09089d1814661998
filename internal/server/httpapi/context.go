package httpapi

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/server/services"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxActor     ctxKey = "actor"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithActor(ctx context.Context, a services.Actor) context.Context {
	return context.WithValue(ctx, ctxActor, a)
}

func ActorFrom(ctx context.Context) (services.Actor, bool) {
	a, ok := ctx.Value(ctxActor).(services.Actor)
	return a, ok
}
