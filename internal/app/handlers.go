package app

import (
	"github.com/gin-gonic/gin"

	lbhttp "github.com/lorebound/lorebound-backend/internal/http"
	httpH "github.com/lorebound/lorebound-backend/internal/http/handlers"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Chat     *httpH.ChatHandler
	Stream   *httpH.StreamHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, serviceset Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(),
		Chat:     httpH.NewChatHandler(serviceset.Chat),
		Stream:   httpH.NewStreamHandler(serviceset.Streams),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(log *logger.Logger, handlerset Handlers) *gin.Engine {
	return lbhttp.NewRouter(lbhttp.RouterConfig{
		Log:             log,
		HealthHandler:   handlerset.Health,
		ChatHandler:     handlerset.Chat,
		StreamHandler:   handlerset.Stream,
		RealtimeHandler: handlerset.Realtime,
	})
}
