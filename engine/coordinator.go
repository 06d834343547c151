package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/metrics"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/sites"
	"github.com/use-agent/paywatch/store"
)

// BatchHook is called once after every batch with all of its results.
type BatchHook func(ctx context.Context, results []models.ParseResult)

// saveTimeout bounds persisting one result.
const saveTimeout = 30 * time.Second

// Coordinator runs a batch: every enabled site, one after another, never
// more than one browser session at a time.
type Coordinator struct {
	runner   Runner
	registry sites.Registry
	store    store.Store
	hooks    []BatchHook
}

// NewCoordinator creates a Coordinator. store may be nil to skip
// persistence.
func NewCoordinator(runner Runner, registry sites.Registry, st store.Store) *Coordinator {
	return &Coordinator{runner: runner, registry: registry, store: st}
}

// OnBatch registers h to run after every batch, in registration order.
func (c *Coordinator) OnBatch(h BatchHook) {
	c.hooks = append(c.hooks, h)
}

// RunAll parses every enabled site in configuration order. A failed site
// yields an error result and the batch goes on. Each result is saved
// before the next site starts. Sites not started because ctx ended get an
// error result and are not saved.
func (c *Coordinator) RunAll(ctx context.Context, cfgs []config.Site) []models.ParseResult {
	start := time.Now()
	results := make([]models.ParseResult, 0, len(cfgs))
	slog.Info("batch started", "sites", len(cfgs))

	for _, site := range cfgs {
		if !site.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, models.NewFailure(site.ID, site.Auth.SiteURL,
				models.NewScrapeError(models.ErrCodeTimeout, "batch canceled before the site was parsed", err), time.Now()))
			continue
		}

		var result models.ParseResult
		if ex, err := c.registry.Lookup(site.ID); err != nil {
			result = models.NewFailure(site.ID, site.Auth.SiteURL, err, time.Now())
		} else {
			result = c.runner.Run(ctx, ex, site)
		}
		c.save(ctx, result)
		results = append(results, result)
	}

	failed := 0
	for _, r := range results {
		if r.Status == models.StatusError {
			failed++
		}
	}
	metrics.LastBatchTimestamp.SetToCurrentTime()
	slog.Info("batch completed", "results", len(results), "failed", failed, "duration", time.Since(start))

	for _, h := range c.hooks {
		h(ctx, results)
	}
	return results
}

func (c *Coordinator) save(ctx context.Context, r models.ParseResult) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if _, err := c.store.Save(ctx, r); err != nil {
		slog.Error("result not saved", "site", r.SiteID, "error", err)
	}
}
