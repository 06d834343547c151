package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/cache"
	"github.com/use-agent/paywatch/captcha"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/engine"
	"github.com/use-agent/paywatch/human"
	"github.com/use-agent/paywatch/lock"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/screenshot"
	"github.com/use-agent/paywatch/sites"
	"github.com/use-agent/paywatch/store"
)

// runLockTTL bounds how long a crashed process can hold the Redis run lock.
const runLockTTL = time.Hour

// app holds the wired components shared by serve and run.
type app struct {
	cfg       *config.Config
	sites     []config.Site
	store     store.Store
	results   *cache.Results
	shots     *screenshot.Store
	locker    *lock.Redis
	coord     *engine.Coordinator
	scheduler *engine.Scheduler
}

// loadSites reads the site file and checks every enabled site has an
// extractor.
func loadSites(cfg *config.Config, registry sites.Registry) ([]config.Site, error) {
	list, err := config.LoadSites(cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	if err := registry.Check(list); err != nil {
		return nil, err
	}
	return list, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		slog.Warn("using in-memory result store, results are lost on restart")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Storage.DSN())
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeConfig, "invalid settings", err)
	}
	registry := sites.Default()
	list, err := loadSites(cfg, registry)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeConfig, "invalid site definitions", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		sites:   list,
		store:   st,
		results: cache.New(st, cfg.Cache.TTL),
		shots:   screenshot.NewStore(cfg.ScreenshotDir),
	}

	var remote engine.Locker
	if cfg.Redis.Addr != "" {
		a.locker, err = lock.NewRedis(ctx, cfg.Redis, runLockTTL)
		if err != nil {
			st.Close()
			return nil, err
		}
		remote = a.locker
		slog.Info("redis run lock enabled", "addr", cfg.Redis.Addr)
	}

	var solver captcha.Solver
	if cfg.Captcha.APIKey != "" {
		solver = captcha.NewClient(cfg.Captcha)
	} else {
		slog.Warn("CAPMONSTER_KEY is not set, challenge-protected logins will fail")
	}

	launcher := browser.NewLauncher(cfg.Browser, config.DefaultProfile())
	orch := engine.NewOrchestrator(launcher, a.shots, &human.Emulator{}, solver)
	a.coord = engine.NewCoordinator(orch, registry, st)
	a.coord.OnBatch(a.retention)
	a.scheduler = engine.NewScheduler(a.coord, engine.NewGuard(remote), list, cfg.Schedule.Interval)
	return a, nil
}

// retention prunes old screenshots and rows and drops cached reads. It runs
// after every batch.
func (a *app) retention(ctx context.Context, _ []models.ParseResult) {
	a.results.Invalidate()

	if n, err := a.shots.Prune(a.cfg.Schedule.ScreenshotRetention); err != nil {
		slog.Warn("screenshot pruning failed", "error", err)
	} else if n > 0 {
		slog.Info("old screenshots removed", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	before := time.Now().Add(-a.cfg.Schedule.ResultRetention)
	if n, err := a.store.Prune(ctx, before); err != nil {
		slog.Warn("result pruning failed", "error", err)
	} else if n > 0 {
		slog.Info("old results removed", "count", n, "before", before)
	}
}

func (a *app) Close() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	a.store.Close()
}

func describeSites(list []config.Site) string {
	enabled := 0
	for _, s := range list {
		if s.IsEnabled() {
			enabled++
		}
	}
	return fmt.Sprintf("%d sites (%d enabled)", len(list), enabled)
}
