package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/store"
)

// Results is the read side behind the results endpoints.
type Results interface {
	LatestAll(ctx context.Context) ([]store.Record, error)
	LatestBySite(ctx context.Context, siteID string) (*store.Record, error)
}

// Screenshots resolves a site's confirmation screenshot on disk.
type Screenshots interface {
	Lookup(siteID string) (path string, ok bool)
}

// ListResults returns a handler for GET /api/v1/results.
func ListResults(rs Results) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := rs.LatestAll(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]models.ParseResult, len(recs))
		for i, r := range recs {
			out[i] = r.ParseResult
		}
		c.JSON(http.StatusOK, models.ResultsResponse{Success: true, Results: out})
	}
}

// GetResult returns a handler for GET /api/v1/results/:site.
func GetResult(rs Results) gin.HandlerFunc {
	return func(c *gin.Context) {
		site := c.Param("site")
		rec, err := rs.LatestBySite(c.Request.Context(), site)
		if err != nil {
			respondError(c, err)
			return
		}
		if rec == nil {
			respondError(c, models.NewScrapeError(models.ErrCodeNotFound, fmt.Sprintf("no result for site %q", site), nil))
			return
		}
		c.JSON(http.StatusOK, models.ResultResponse{Success: true, Result: &rec.ParseResult})
	}
}

// Screenshot returns a handler for GET /api/v1/results/:site/screenshot.
// It serves the newest PNG for the site, which after a failed attempt is the
// diagnostic capture.
func Screenshot(shots Screenshots) gin.HandlerFunc {
	return func(c *gin.Context) {
		site := c.Param("site")
		path, ok := shots.Lookup(site)
		if !ok {
			respondError(c, models.NewScrapeError(models.ErrCodeNotFound, fmt.Sprintf("no screenshot for site %q", site), nil))
			return
		}
		c.Header("Cache-Control", "no-store")
		c.File(path)
	}
}
