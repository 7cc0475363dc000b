package bus

import (
	"context"

	"github.com/lorebound/lorebound-backend/internal/realtime"
)

// Bus carries SSE messages across processes so every server instance can
// fan events out to its own connected clients.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
