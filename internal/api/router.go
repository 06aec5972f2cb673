// Package api provides the operational HTTP surface for odin-sync: health,
// sync status, manual sync/upload triggers, and Prometheus metrics.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/odin-security/odin-sync/internal/api/middleware"
)

// HealthChecker reports liveness of a backing store.
type HealthChecker interface {
	HealthCheck() bool
}

// Config holds configuration for the API router.
type Config struct {
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a Router exposing the sync pipeline. gatherer may be nil
// to disable the /metrics endpoint.
func NewRouter(cfg Config, h *SyncHandler, gatherer prometheus.Gatherer, logger zerolog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))

	r.Engine.GET("/healthz", h.Health)
	r.Engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    cfg.Version,
			"commit":     cfg.Commit,
			"build_date": cfg.BuildDate,
		})
	})

	if gatherer != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Engine.Group("/api/v1")
	{
		v1.GET("/sync/status", h.Status)
		v1.GET("/sync/dead-letter", h.DeadLetter)
		v1.POST("/orgs/:id/sync", h.TriggerSync)
		v1.POST("/orgs/:id/upload", h.TriggerUpload)
		v1.POST("/cleanup", h.TriggerCleanup)
	}

	return r
}
