package app

import (
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/realtime"
	"github.com/lorebound/lorebound-backend/internal/realtime/bus"
	"github.com/lorebound/lorebound-backend/internal/services"
)

type Services struct {
	Chat    services.ChatService
	Streams services.StreamSessionManager
}

// wireServices builds the service graph. When REDIS_ADDR is set, events go
// through the redis bus so multiple instances stay in sync; otherwise they
// feed the in-process hub directly. The returned bus is nil in hub-only
// mode.
func wireServices(db *gorm.DB, log *logger.Logger, reposet Repos, hub *realtime.SSEHub) (Services, bus.Bus, error) {
	log.Info("Wiring services...")

	var emitter services.SSEEmitter
	var sseBus bus.Bus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := bus.NewRedisBus(log)
		if err != nil {
			return Services{}, nil, err
		}
		sseBus = b
		emitter = &services.RedisEmitter{Bus: b}
		log.Info("SSE events routed through redis bus")
	} else {
		emitter = &services.HubEmitter{Hub: hub}
	}

	notifier := services.NewChatNotifier(emitter)
	chatService := services.NewChatService(db, log, reposet.Chats, reposet.Nodes, notifier)
	aiClient := services.NewAIClientFromEnv(log)
	streamManager := services.NewStreamSessionManager(log, chatService, aiClient, notifier)

	return Services{
		Chat:    chatService,
		Streams: streamManager,
	}, sseBus, nil
}
