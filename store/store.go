// Package store persists parse results. Every save demotes the site's
// previous latest row and inserts the new one as latest in one atomic unit,
// so each site has exactly one latest row at rest.
package store

import (
	"context"
	"time"

	"github.com/use-agent/paywatch/models"
)

// Record is a stored ParseResult.
type Record struct {
	ID       int64 `json:"id"`
	IsLatest bool  `json:"is_latest"`
	models.ParseResult
}

// Store is the persistence contract used by the batch coordinator and the
// read surfaces.
type Store interface {
	// Save stores r as the site's latest result and returns its id.
	Save(ctx context.Context, r models.ParseResult) (int64, error)
	// LatestAll returns the latest result of every site, ordered by site id.
	LatestAll(ctx context.Context) ([]Record, error)
	// LatestBySite returns the site's latest result, or nil if it has none.
	LatestBySite(ctx context.Context, siteID string) (*Record, error)
	// Prune deletes non-latest rows parsed before cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close()
}
