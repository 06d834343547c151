// Package browsertest provides an in-memory browser.Session for tests of
// code written against the browser package.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/models"
	"github.com/ysmood/gson"
)

// PNG is the payload written by Screenshot.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Session records every call and answers from canned data. Fields may be set
// before use; Errors maps an operation key ("navigate", "click:<sel>",
// "wait:<sel>", "reload", "screenshot", "eval", "type") to the error that
// operation returns.
type Session struct {
	mu sync.Mutex

	CurrentURL string
	Page       string
	Exchanges  []browser.Exchange
	Errors     map[string]error
	// EvalFunc answers Eval; nil returns JSON null.
	EvalFunc func(js string, args ...any) (gson.JSON, error)

	Calls  []string
	Typed  strings.Builder
	Closes int
	// CloseErr is returned by Close.
	CloseErr error
}

var _ browser.Session = (*Session)(nil)

func (s *Session) record(call string) {
	s.mu.Lock()
	s.Calls = append(s.Calls, call)
	s.mu.Unlock()
}

func (s *Session) fail(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Errors[key]
}

// SetError makes operation key fail with err.
func (s *Session) SetError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Errors == nil {
		s.Errors = make(map[string]error)
	}
	s.Errors[key] = err
}

// CallLog returns a copy of the recorded calls.
func (s *Session) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

func (s *Session) Navigate(ctx context.Context, url string, until browser.WaitUntil) error {
	s.record("navigate " + url + " " + until.String())
	if err := s.fail("navigate"); err != nil {
		return err
	}
	s.mu.Lock()
	s.CurrentURL = url
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Session) Reload(ctx context.Context, until browser.WaitUntil) error {
	s.record("reload " + until.String())
	if err := s.fail("reload"); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) Click(ctx context.Context, selector string) error {
	s.record("click " + selector)
	return s.fail("click:" + selector)
}

func (s *Session) TypeText(ctx context.Context, text string) error {
	if err := s.fail("type"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Typed.WriteString(text)
	s.mu.Unlock()
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	s.record("wait " + selector)
	return s.fail("wait:" + selector)
}

func (s *Session) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	s.record("eval")
	if err := s.fail("eval"); err != nil {
		return gson.New(nil), err
	}
	if s.EvalFunc == nil {
		return gson.New(nil), nil
	}
	return s.EvalFunc(js, args...)
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	s.record("html")
	return s.Page, s.fail("html")
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentURL
}

func (s *Session) Screenshot(ctx context.Context, selector, path string) error {
	if selector == "" {
		s.record("screenshot page")
	} else {
		s.record("screenshot " + selector)
	}
	if err := s.fail("screenshot"); err != nil {
		return err
	}
	return os.WriteFile(path, PNG, 0o644)
}

// Expect runs trigger and returns the first canned exchange accepted by m.
// With no match it fails the way a real session does when the wait times
// out.
func (s *Session) Expect(ctx context.Context, m browser.Matcher, trigger func(ctx context.Context) error) (*browser.Exchange, error) {
	s.record("expect " + m.Name)
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.Exchanges {
		if m.OnRequest != nil && !m.OnRequest(ex.Method, ex.URL, ex.PostData) {
			continue
		}
		if m.OnResponse != nil {
			respURL := ex.ResponseURL
			if respURL == "" {
				respURL = ex.URL
			}
			if !m.OnResponse(respURL, ex.Status) {
				continue
			}
		}
		out := ex
		return &out, nil
	}
	return nil, models.NewScrapeError(models.ErrCodeTimeout, "no network exchange matched "+m.Name, context.DeadlineExceeded)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}

// Opener hands out sessions built by New, or fails with Err.
type Opener struct {
	mu sync.Mutex

	New func() *Session
	Err error

	Opened []*Session
}

func (o *Opener) Open(ctx context.Context) (browser.Session, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	s := &Session{}
	if o.New != nil {
		s = o.New()
	}
	o.mu.Lock()
	o.Opened = append(o.Opened, s)
	o.mu.Unlock()
	return s, nil
}

// AllClosedOnce reports an error naming the first session not closed
// exactly once.
func (o *Opener) AllClosedOnce() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.Opened {
		if s.Closes != 1 {
			return fmt.Errorf("session %d closed %d times", i, s.Closes)
		}
	}
	return nil
}
