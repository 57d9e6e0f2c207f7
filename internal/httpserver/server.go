package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aggrlabs/event-aggregator/internal/config"
	"github.com/aggrlabs/event-aggregator/internal/dedup"
	"github.com/aggrlabs/event-aggregator/internal/handlers"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// NewRouter wires the full endpoint surface.
// Liveness/health: /, /health, /ready
// Ingestion: /publish, /publish/batch
// Reads: /stats, /topics, /events
// Operational: /metrics (Prometheus)
func NewRouter(cfg *config.Config, st *store.Store, eng *dedup.Engine, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.With().Str("component", "http").Logger()))

	startedAt := time.Now()

	// Service banner.
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.App.Name,
			"version": cfg.App.Version,
			"status":  "running",
		})
	})

	// Health covers the process and its storage connection.
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterPublishRoutes(r, eng)
	handlers.RegisterQueryRoutes(r, st, startedAt)

	return r
}
