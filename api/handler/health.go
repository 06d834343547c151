package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/paywatch/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /api/v1/health.
//
// Reports the scheduler state and degrades status when the store does not
// answer a ping.
func Health(runs Runs, db Pinger, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err := db.Ping(ctx)
			cancel()
			if err != nil {
				slog.Warn("health: store ping failed", "error", err)
				status = "degraded"
			}
		}

		resp := models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			RunInFlight: runs.InFlight(),
			Version:     Version,
		}
		if sum, ok := runs.Last(); ok {
			at := sum.FinishedAt
			resp.LastRunAt = &at
			resp.LastRunSites = sum.Sites
			resp.LastRunFails = sum.Failed
		}
		c.JSON(http.StatusOK, resp)
	}
}
