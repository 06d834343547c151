package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/metrics"
	"github.com/use-agent/paywatch/models"
)

// ErrRunInProgress is returned when a batch is requested while another one
// holds the guard.
var ErrRunInProgress = models.NewScrapeError(models.ErrCodeRunInProgress, "a batch is already running", nil)

// Locker is a lock shared with other processes.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Guard admits one batch at a time: an in-process flag, plus an optional
// cross-process lock.
type Guard struct {
	running atomic.Bool
	remote  Locker
}

// NewGuard creates a Guard. remote may be nil.
func NewGuard(remote Locker) *Guard {
	return &Guard{remote: remote}
}

// Acquire takes the guard without waiting. It returns ErrRunInProgress when
// a batch is already running here or in another process. The returned
// release is idempotent.
func (g *Guard) Acquire(ctx context.Context) (release func(), err error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	var remoteRelease func()
	if g.remote != nil {
		rel, ok, err := g.remote.TryLock(ctx)
		if err != nil {
			g.running.Store(false)
			return nil, fmt.Errorf("run lock: %w", err)
		}
		if !ok {
			g.running.Store(false)
			return nil, models.NewScrapeError(models.ErrCodeRunInProgress, "a batch is running in another process", nil)
		}
		remoteRelease = rel
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if remoteRelease != nil {
				remoteRelease()
			}
			g.running.Store(false)
		})
	}, nil
}

// InFlight reports whether this process is running a batch.
func (g *Guard) InFlight() bool {
	return g.running.Load()
}

// Summary describes the last finished batch.
type Summary struct {
	FinishedAt time.Time
	Sites      int
	Failed     int
}

// Scheduler fires a batch at startup and then every interval. Triggers
// that find a batch running are skipped, never queued. Background batches
// run under the scheduler's own context, which Start cancels on shutdown.
type Scheduler struct {
	coord    *Coordinator
	guard    *Guard
	sites    []config.Site
	interval time.Duration

	base context.Context
	stop context.CancelFunc

	wg   sync.WaitGroup
	mu   sync.Mutex
	last Summary
}

// NewScheduler creates a Scheduler over the given sites.
func NewScheduler(coord *Coordinator, guard *Guard, sites []config.Site, interval time.Duration) *Scheduler {
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{coord: coord, guard: guard, sites: sites, interval: interval, base: base, stop: stop}
}

// Start fires immediately, then every interval through cron, until ctx is
// cancelled. On shutdown it cancels running batches and waits for them.
func (s *Scheduler) Start(ctx context.Context) error {
	log := cronLogger{}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { s.fire(s.base, "interval") }); err != nil {
		return fmt.Errorf("schedule every %s: %w", s.interval, err)
	}

	slog.Info("scheduler started", "interval", s.interval, "sites", len(s.sites))
	s.fire(s.base, "startup")
	c.Start()

	<-ctx.Done()
	slog.Info("scheduler stopping, cancelling running batch")
	<-c.Stop().Done()
	s.Shutdown()
	return nil
}

// Shutdown cancels background batches and waits for them to return. Later
// triggers are refused.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) fire(ctx context.Context, reason string) {
	if err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) || models.CodeOf(err) == models.ErrCodeRunInProgress {
			slog.Warn("batch skipped, previous batch still running", "trigger", reason)
			return
		}
		slog.Error("batch not started", "trigger", reason, "error", err)
	}
}

// Trigger starts a batch in the background. It fails fast when a batch is
// already running. ctx only bounds acquiring the guard; the batch itself
// runs until it finishes or the scheduler shuts down.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if err := s.base.Err(); err != nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	release, err := s.guard.Acquire(ctx)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("skipped").Inc()
		return err
	}

	s.mu.Lock()
	if err := s.base.Err(); err != nil {
		s.mu.Unlock()
		release()
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer release()
		s.run(s.base)
	}()
	return nil
}

// RunOnce runs a batch over sites (all configured sites when nil) in the
// caller's goroutine. The batch ends early when ctx is cancelled or the
// scheduler shuts down.
func (s *Scheduler) RunOnce(ctx context.Context, sites []config.Site) ([]models.ParseResult, error) {
	release, err := s.guard.Acquire(ctx)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("skipped").Inc()
		return nil, err
	}
	defer release()
	if sites == nil {
		sites = s.sites
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unbind := context.AfterFunc(s.base, cancel)
	defer unbind()
	return s.runSites(ctx, sites), nil
}

// Select returns the configured sites named by ids, in configuration order.
// An empty ids selects every site. Unknown ids yield a NotFound error.
func (s *Scheduler) Select(ids []string) ([]config.Site, error) {
	if len(ids) == 0 {
		return s.sites, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []config.Site
	for _, site := range s.sites {
		if want[site.ID] {
			out = append(out, site)
			delete(want, site.ID)
		}
	}
	for id := range want {
		return nil, models.NewScrapeError(models.ErrCodeNotFound, fmt.Sprintf("unknown site %q", id), nil)
	}
	return out, nil
}

func (s *Scheduler) run(ctx context.Context) {
	s.runSites(ctx, s.sites)
}

func (s *Scheduler) runSites(ctx context.Context, sites []config.Site) []models.ParseResult {
	results := s.coord.RunAll(ctx, sites)
	metrics.BatchesTotal.WithLabelValues("completed").Inc()

	sum := Summary{FinishedAt: time.Now(), Sites: len(results)}
	for _, r := range results {
		if r.Status == models.StatusError {
			sum.Failed++
		}
	}
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
	return results
}

// InFlight reports whether a batch is running in this process.
func (s *Scheduler) InFlight() bool {
	return s.guard.InFlight()
}

// Last returns the summary of the last finished batch; ok is false before
// the first one finishes.
func (s *Scheduler) Last() (sum Summary, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.FinishedAt.IsZero()
}

// Wait blocks until background batches started by Trigger finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
