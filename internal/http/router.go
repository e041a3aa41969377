package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/lullabyte/lullabyte-backend/internal/http/handlers"
	httpMW "github.com/lullabyte/lullabyte-backend/internal/http/middleware"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	StoryHandler  *httpH.StoryHandler
	MediaHandler  *httpH.MediaHandler
	HealthHandler *httpH.HealthHandler

	TracingEnabled bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachRequestContext())
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware("lullabyte"))
	}
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.StoryHandler != nil {
			api.POST("/story/start", cfg.StoryHandler.Start)
			api.POST("/story/continue", cfg.StoryHandler.Continue)
			api.GET("/story/status/:sessionId", cfg.StoryHandler.Status)
			api.GET("/story/branches/:sessionId/:checkpoint", cfg.StoryHandler.Branches)
			api.POST("/story/evaluate", cfg.StoryHandler.Evaluate)
			api.POST("/story/regenerate-audio", cfg.StoryHandler.RegenerateAudio)
		}

		if cfg.MediaHandler != nil {
			api.GET("/story/audio/:sessionId/:segmentId", cfg.MediaHandler.GetAudio)
			api.GET("/story/image/:sessionId/:segmentId", cfg.MediaHandler.GetImage)
		}
	}

	return r
}
