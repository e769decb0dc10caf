package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/paladugusuresh/graphrag/internal/observability"

	httpH "github.com/paladugusuresh/graphrag/internal/http/handlers"
	httpMW "github.com/paladugusuresh/graphrag/internal/http/middleware"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

type RouterConfig struct {
	QueryHandler  *httpH.QueryHandler
	AdminHandler  *httpH.SchemaAdminHandler
	AdminAuth     *httpMW.AdminAuth
	HealthHandler *httpH.HealthHandler

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("graphrag"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())
	if observability.Enabled() {
		r.Use(httpMW.Metrics(observability.Current()))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Metrics
	if observability.Enabled() {
		r.GET("/metrics", func(c *gin.Context) {
			observability.Current().WriteHTTP(c.Writer, c.Request)
		})
	}

	api := r.Group("/api")
	{
		// Query (public)
		if cfg.QueryHandler != nil {
			api.POST("/query", cfg.QueryHandler.Query)
		}
	}

	admin := r.Group("/admin")
	{
		// Middleware
		if cfg.AdminAuth != nil {
			admin.Use(cfg.AdminAuth.RequireAdmin())
		}

		// Schema (write mode)
		if cfg.AdminHandler != nil {
			admin.POST("/schema/refresh", cfg.AdminHandler.RefreshSchema)
		}
	}

	return r
}
