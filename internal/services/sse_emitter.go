package services

import (
	"context"

	"github.com/lorebound/lorebound-backend/internal/realtime"
	"github.com/lorebound/lorebound-backend/internal/realtime/bus"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

// HubEmitter broadcasts directly to the in-process hub (single-instance
// deployments, the local-first default).
type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// RedisEmitter publishes to the redis bus; each instance's forwarder feeds
// its own hub.
type RedisEmitter struct{ Bus bus.Bus }

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
