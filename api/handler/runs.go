package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/engine"
	"github.com/use-agent/paywatch/models"
)

// Runs starts batches and reports on them.
type Runs interface {
	InFlight() bool
	Last() (engine.Summary, bool)
	Trigger(ctx context.Context) error
	RunOnce(ctx context.Context, sites []config.Site) ([]models.ParseResult, error)
	Select(ids []string) ([]config.Site, error)
}

// PostRun returns a handler for POST /api/v1/runs.
//
// Without a body, or with wait=false and no sites, the scheduled batch is
// started in the background and 202 is returned. With wait=true, or with a
// site list, the batch runs inside the request and its results are returned.
// A batch already in flight yields 409 RunInProgress.
func PostRun(runs Runs) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if c.Request.Body != nil && c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				respondError(c, models.NewScrapeError(models.ErrCodeConfig, err.Error(), err))
				return
			}
		}

		if !req.Wait && len(req.Sites) == 0 {
			if err := runs.Trigger(c.Request.Context()); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, models.RunResponse{Success: true, Status: "started"})
			return
		}

		sites, err := runs.Select(req.Sites)
		if err != nil {
			respondError(c, err)
			return
		}
		results, err := runs.RunOnce(c.Request.Context(), sites)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.RunResponse{Success: true, Status: "completed", Results: results})
	}
}
