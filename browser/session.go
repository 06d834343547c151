package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/paywatch/models"
	"github.com/ysmood/gson"
)

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	context  *rod.Browser // incognito browsing context
	page     *rod.Page
	router   *rod.HijackRouter
	timeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// bind derives the per-operation context and binds the page to it.
func (s *rodSession) bind(ctx context.Context) (*rod.Page, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.page.Context(opCtx), cancel
}

func (s *rodSession) Navigate(ctx context.Context, url string, until WaitUntil) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	var waitDOM func()
	if until == WaitDOMContentLoaded {
		waitDOM = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	}
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, models.ErrCodeNetwork, "navigation to "+url+" failed")
	}
	return s.settle(p, until, waitDOM)
}

func (s *rodSession) Reload(ctx context.Context, until WaitUntil) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	var waitDOM func()
	if until == WaitDOMContentLoaded {
		waitDOM = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	}
	if err := p.Reload(); err != nil {
		return categorizeError(err, models.ErrCodeNetwork, "reload failed")
	}
	return s.settle(p, until, waitDOM)
}

func (s *rodSession) settle(p *rod.Page, until WaitUntil, waitDOM func()) error {
	switch until {
	case WaitDOMContentLoaded:
		waitDOM()
		if err := p.GetContext().Err(); err != nil {
			return categorizeError(err, models.ErrCodeTimeout, "waiting for DOMContentLoaded")
		}
	case WaitLoad:
		if err := p.WaitLoad(); err != nil {
			return categorizeError(err, models.ErrCodeTimeout, "waiting for load event")
		}
	}
	return nil
}

func (s *rodSession) Click(ctx context.Context, selector string) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	el, err := p.Element(selector)
	if err != nil {
		return categorizeError(err, models.ErrCodeTimeout, fmt.Sprintf("element %q not found", selector))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, models.ErrCodeTimeout, fmt.Sprintf("click on %q failed", selector))
	}
	return nil
}

func (s *rodSession) TypeText(ctx context.Context, text string) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	if err := p.InsertText(text); err != nil {
		return categorizeError(err, models.ErrCodeTimeout, "typing failed")
	}
	return nil
}

func (s *rodSession) WaitVisible(ctx context.Context, selector string) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	el, err := p.Element(selector)
	if err != nil {
		return categorizeError(err, models.ErrCodeTimeout, fmt.Sprintf("waiting for %q", selector))
	}
	if err := el.WaitVisible(); err != nil {
		return categorizeError(err, models.ErrCodeTimeout, fmt.Sprintf("waiting for %q to be visible", selector))
	}
	return nil
}

func (s *rodSession) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	p, cancel := s.bind(ctx)
	defer cancel()

	res, err := p.Eval(js, args...)
	if err != nil {
		return gson.New(nil), categorizeError(err, models.ErrCodeNetwork, "script evaluation failed")
	}
	return res.Value, nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	p, cancel := s.bind(ctx)
	defer cancel()

	html, err := p.HTML()
	if err != nil {
		return "", categorizeError(err, models.ErrCodeNetwork, "failed to read page HTML")
	}
	return html, nil
}

func (s *rodSession) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) Screenshot(ctx context.Context, selector, path string) error {
	p, cancel := s.bind(ctx)
	defer cancel()

	var (
		img []byte
		err error
	)
	if selector == "" {
		img, err = p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	} else {
		var el *rod.Element
		el, err = p.Element(selector)
		if err == nil {
			img, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		}
	}
	if err != nil {
		return categorizeError(err, models.ErrCodeTimeout, fmt.Sprintf("screenshot of %q failed", selector))
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fmt.Errorf("write screenshot %s: %w", path, err)
	}
	return nil
}

// Close tears down page, context and browser process. It is idempotent and
// bounded by closeTimeout.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var errs []error
		if s.router != nil {
			if err := s.router.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop hijack router: %w", err))
			}
		}
		if s.page != nil {
			if err := s.page.Context(ctx).Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if s.context != nil {
			if err := s.context.Context(ctx).Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser context: %w", err))
			}
		}
		if s.browser != nil {
			if err := s.browser.Context(ctx).Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			slog.Warn("browser session closed with errors", "error", s.closeErr)
		}
	})
	return s.closeErr
}

// categorizeError wraps raw driver errors into typed ScrapeErrors.
// Deadlines become Timeout, failed navigations NetworkError, and anything
// else gets fallback.
func categorizeError(err error, fallback, msg string) *models.ScrapeError {
	var navErr *rod.NavigationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "operation canceled: "+msg, err)
	case errors.As(err, &navErr):
		return models.NewScrapeError(models.ErrCodeNetwork, msg, err)
	default:
		return models.NewScrapeError(fallback, msg, err)
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
