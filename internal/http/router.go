package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/lorebound/lorebound-backend/internal/http/handlers"
	httpMW "github.com/lorebound/lorebound-backend/internal/http/middleware"
	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler   *httpH.HealthHandler
	ChatHandler     *httpH.ChatHandler
	StreamHandler   *httpH.StreamHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("lorebound"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.RealtimeHandler != nil {
			api.GET("/realtime/stream", cfg.RealtimeHandler.SSEStream)
		}

		if cfg.ChatHandler != nil {
			api.POST("/chats", cfg.ChatHandler.CreateChat)
			api.GET("/chats", cfg.ChatHandler.ListChats)
			api.GET("/chats/:id", cfg.ChatHandler.GetChat)
			api.DELETE("/chats/:id", cfg.ChatHandler.DeleteChat)

			api.GET("/chats/:id/tree", cfg.ChatHandler.GetTree)
			api.GET("/chats/:id/path", cfg.ChatHandler.GetActivePath)
			api.POST("/chats/:id/messages", cfg.ChatHandler.AppendMessage)
			api.POST("/chats/:id/switch", cfg.ChatHandler.SwitchBranch)

			api.PATCH("/messages/:node_id", cfg.ChatHandler.EditMessage)
			api.DELETE("/messages/:node_id", cfg.ChatHandler.DeleteMessage)
			api.POST("/messages/:node_id/swipe", cfg.ChatHandler.SwipeSibling)
		}

		if cfg.StreamHandler != nil {
			api.POST("/chats/:id/generate", cfg.StreamHandler.Generate)
			api.GET("/chats/:id/stream", cfg.StreamHandler.Current)
			api.POST("/chats/:id/stream/cancel", cfg.StreamHandler.Cancel)
		}
	}

	return r
}
