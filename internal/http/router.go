package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/neurobridge/genjobs/internal/http/handlers"
	httpMW "github.com/neurobridge/genjobs/internal/http/middleware"
	"github.com/neurobridge/genjobs/internal/metrics"
)

// RouterConfig wires the three HTTP/SSE boundary endpoints spec.md §6 names
// plus health and metrics.
type RouterConfig struct {
	GenerateHandler *httpH.GenerateHandler
	JobHandler      *httpH.JobHandler
	SSEHandler      *httpH.SSEHandler
	HealthHandler   *httpH.HealthHandler
	Metrics         *metrics.Sink
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	authed := r.Group("/")
	authed.Use(httpMW.RequireUserID())
	{
		if cfg.GenerateHandler != nil {
			authed.POST("/options/:option_id/generate", cfg.GenerateHandler.Generate)
		}
		if cfg.JobHandler != nil {
			authed.GET("/jobs/:job_id", cfg.JobHandler.GetJob)
		}
		if cfg.SSEHandler != nil {
			authed.GET("/sse/:chat_id", cfg.SSEHandler.Stream)
		}
	}

	return r
}
