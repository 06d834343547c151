// Package engine runs site extractors: one attempt per site inside its own
// browser session, a sequential batch over all enabled sites, and the
// interval scheduler that triggers batches.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/captcha"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/human"
	"github.com/use-agent/paywatch/metrics"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/screenshot"
	"github.com/use-agent/paywatch/sites"
)

// Runner runs one extractor end-to-end and always returns a result.
type Runner interface {
	Run(ctx context.Context, ex sites.Extractor, site config.Site) models.ParseResult
}

// diagnosticTimeout bounds the failure screenshot, which runs even when the
// attempt's context is already done.
const diagnosticTimeout = 15 * time.Second

// Orchestrator is the default Runner.
type Orchestrator struct {
	opener browser.Opener
	shots  *screenshot.Store
	human  *human.Emulator
	solver captcha.Solver

	// SettleDelay is waited before the confirmation screenshot so the
	// payment list finishes rendering.
	SettleDelay time.Duration
	now         func() time.Time
}

var _ Runner = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator. solver may be nil when no
// site needs challenge solving.
func NewOrchestrator(opener browser.Opener, shots *screenshot.Store, h *human.Emulator, solver captcha.Solver) *Orchestrator {
	if h == nil {
		h = &human.Emulator{}
	}
	return &Orchestrator{
		opener:      opener,
		shots:       shots,
		human:       h,
		solver:      solver,
		SettleDelay: time.Second,
		now:         time.Now,
	}
}

// Run opens a session, authenticates, navigates, extracts and captures the
// confirmation screenshot. Every failure becomes an error result; the
// session is closed exactly once on every path.
func (o *Orchestrator) Run(ctx context.Context, ex sites.Extractor, site config.Site) (result models.ParseResult) {
	start := o.now()
	log := slog.With("site", site.ID)
	log.Info("parse started", "name", site.DisplayName())

	var failure error
	defer func() {
		elapsed := o.now().Sub(start)
		code := ""
		if failure != nil {
			code = models.CodeOf(failure)
			log.Error("parse failed", "duration", elapsed, "error", result.ErrorMessage)
		} else {
			metrics.PaymentMethodsFound.WithLabelValues(site.ID).Set(float64(len(result.PaymentMethods)))
			log.Info("parse completed", "duration", elapsed, "methods", len(result.PaymentMethods))
		}
		metrics.ParseAttemptsTotal.WithLabelValues(site.ID, string(result.Status), code).Inc()
		metrics.ParseDuration.WithLabelValues(site.ID).Observe(elapsed.Seconds())
	}()

	sess, err := o.opener.Open(ctx)
	if err != nil {
		failure = err
		return models.NewFailure(site.ID, site.Auth.SiteURL, err, o.now())
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("browser session close failed", "error", err)
		}
	}()

	env := sites.Env{Session: sess, Site: site, Human: o.human, Solver: o.solver}
	methods, shot, err := o.attempt(ctx, ex, env, log)
	if err != nil {
		failure = err
		o.diagnose(ctx, sess, site.ID, log)
		return models.NewFailure(site.ID, site.Auth.SiteURL, err, o.now())
	}
	return models.NewSuccess(site.ID, site.Auth.SiteURL, shot, methods, o.now())
}

func (o *Orchestrator) attempt(ctx context.Context, ex sites.Extractor, env sites.Env, log *slog.Logger) (methods []models.PaymentMethod, shot string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewScrapeError(models.ErrCodeInternal, fmt.Sprintf("extractor panicked: %v", r), nil)
		}
	}()

	if err := ex.Authenticate(ctx, env); err != nil {
		return nil, "", err
	}
	log.Info("authenticated")

	if err := ex.NavigateToTarget(ctx, env); err != nil {
		return nil, "", err
	}
	log.Info("navigated to cashbox")

	methods, err = ex.Extract(ctx, env)
	if err != nil {
		return nil, "", err
	}
	log.Info("payment methods extracted", "count", len(methods))

	if err := o.human.Pause(ctx, o.SettleDelay); err != nil {
		return nil, "", models.NewScrapeError(models.ErrCodeTimeout, "waiting before screenshot", err)
	}
	shot, err = o.shots.Path(env.Site.ID)
	if err != nil {
		return nil, "", models.NewScrapeError(models.ErrCodeInternal, "screenshot path", err)
	}
	if err := env.Session.Screenshot(ctx, env.Site.Topup.ScreenshotSelector, shot); err != nil {
		return nil, "", err
	}
	log.Info("screenshot saved", "path", shot)
	return methods, shot, nil
}

// diagnose captures a full-page screenshot after a failure. It is best
// effort: any error is logged and swallowed.
func (o *Orchestrator) diagnose(ctx context.Context, sess browser.Session, siteID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticTimeout)
	defer cancel()

	path, err := o.shots.Path(siteID)
	if err == nil {
		err = sess.Screenshot(ctx, "", path)
	}
	if err != nil {
		log.Warn("diagnostic screenshot failed", "error", err)
		return
	}
	log.Info("diagnostic screenshot saved", "path", path, "url", sess.URL())
}
