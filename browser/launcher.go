package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

// Launcher opens one fresh Chrome process per session with the configured
// device profile applied.
type Launcher struct {
	cfg     config.BrowserConfig
	profile config.Profile
}

// NewLauncher creates a Launcher. The profile is copied and never mutated.
func NewLauncher(cfg config.BrowserConfig, profile config.Profile) *Launcher {
	return &Launcher{cfg: cfg, profile: profile}
}

// Open launches the browser, creates an incognito context and a page, and
// applies the fingerprint. On any failure everything acquired so far is
// released before returning.
func (l *Launcher) Open(ctx context.Context) (Session, error) {
	lch := launcher.New().
		Context(ctx).
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox)

	if l.cfg.BrowserBin != "" {
		lch = lch.Bin(l.cfg.BrowserBin)
	}
	if l.cfg.Proxy != "" {
		lch = lch.Proxy(l.cfg.Proxy)
	}

	// ── Profile + stealth flags ──────────────────────────────────────
	for name, value := range l.profile.LaunchFlags {
		if value == "" {
			lch.Set(flags.Flag(name))
		} else {
			lch.Set(flags.Flag(name), value)
		}
	}
	lch.Delete(flags.Flag("enable-automation"))
	lch.Set(flags.Flag("no-first-run"))
	lch.Set(flags.Flag("disable-default-apps"))
	lch.Set(flags.Flag("disable-component-update"))

	controlURL, err := lch.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	s := &rodSession{launcher: lch, timeout: l.cfg.Timeout}
	if err := l.setup(s, controlURL); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (l *Launcher) setup(s *rodSession, controlURL string) error {
	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.browser = nil
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	incognito, err := s.browser.Incognito()
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}
	s.context = incognito

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	s.page = page

	// ── Stealth injection (before any navigation) ────────────────────
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	// ── Device, locale and timezone emulation ────────────────────────
	if err := page.Emulate(l.device()); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to emulate device", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: l.profile.Timezone}).Call(page); err != nil {
		slog.Warn("timezone override failed", "timezone", l.profile.Timezone, "error", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: l.profile.Locale}).Call(page); err != nil {
		slog.Warn("locale override failed", "locale", l.profile.Locale, "error", err)
	}
	if len(l.profile.ExtraHeaders) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(l.profile.ExtraHeaders)}).Call(page); err != nil {
			slog.Warn("extra headers not applied", "error", err)
		}
	}

	// ── Network domain for exchange interception ─────────────────────
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to enable network events", err)
	}

	s.router = setupHijack(page, l.cfg.BlockedResourceTypes)
	return nil
}

func (l *Launcher) device() devices.Device {
	p := l.profile
	var caps []string
	if p.Touch {
		caps = append(caps, "touch")
	}
	if p.Mobile {
		caps = append(caps, "mobile")
	}
	return devices.Device{
		Title:          "paywatch profile",
		Capabilities:   caps,
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.AcceptLanguage,
		Screen: devices.Screen{
			DevicePixelRatio: p.DeviceScaleFactor,
			Horizontal:       devices.ScreenSize{Width: p.ViewportHeight, Height: p.ViewportWidth},
			Vertical:         devices.ScreenSize{Width: p.ViewportWidth, Height: p.ViewportHeight},
		},
	}
}

// closeTimeout bounds teardown so a wedged browser cannot block the batch.
const closeTimeout = 10 * time.Second
