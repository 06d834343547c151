package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/paywatch/api/handler"
	"github.com/use-agent/paywatch/api/middleware"
	"github.com/use-agent/paywatch/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → Metrics
//	API:     Auth (if enabled) → RateLimit
//
// Health and /metrics stay outside auth so health checks and metric scrapes always work.
// ctx bounds the rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, results handler.Results, shots handler.Screenshots, runs handler.Runs, db handler.Pinger, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(runs, db, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.GET("/results", handler.ListResults(results))
	protected.GET("/results/:site", handler.GetResult(results))
	protected.GET("/results/:site/screenshot", handler.Screenshot(shots))
	protected.POST("/runs", handler.PostRun(runs))

	return r
}
