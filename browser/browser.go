// Package browser is the browser session driver: it owns one Chrome process,
// one isolated browsing context and one page per parse attempt, and exposes
// the navigation, interaction and network-interception primitives the site
// extractors are written against.
package browser

import (
	"context"
	"strings"

	"github.com/ysmood/gson"
)

// WaitUntil selects how far a navigation must progress before returning.
type WaitUntil int

const (
	// WaitCommit returns once the new document is committed.
	WaitCommit WaitUntil = iota
	// WaitDOMContentLoaded returns after DOMContentLoaded fired.
	WaitDOMContentLoaded
	// WaitLoad returns after the load event fired.
	WaitLoad
)

func (w WaitUntil) String() string {
	switch w {
	case WaitCommit:
		return "commit"
	case WaitDOMContentLoaded:
		return "domcontentloaded"
	case WaitLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Session is one live browser session. Every method is bounded by the
// session's default timeout in addition to ctx.
type Session interface {
	Navigate(ctx context.Context, url string, until WaitUntil) error
	Reload(ctx context.Context, until WaitUntil) error
	Click(ctx context.Context, selector string) error
	// TypeText inserts text into the focused element.
	TypeText(ctx context.Context, text string) error
	WaitVisible(ctx context.Context, selector string) error
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	HTML(ctx context.Context) (string, error)
	// URL is the current page URL, or "" if it cannot be read.
	URL() string
	// Screenshot writes a PNG of the element matching selector to path.
	// An empty selector captures the whole page.
	Screenshot(ctx context.Context, selector, path string) error
	// Expect registers m, runs trigger and waits for the first network
	// exchange accepted by m to finish loading.
	Expect(ctx context.Context, m Matcher, trigger func(ctx context.Context) error) (*Exchange, error)
	Close() error
}

// Opener acquires sessions. Each session returned by Open must be closed
// exactly once.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Exchange is one intercepted request/response pair.
type Exchange struct {
	Method      string
	URL         string
	PostData    string
	Status      int
	ResponseURL string
	Body        []byte
}

// JSON decodes the response body.
func (e *Exchange) JSON() gson.JSON {
	return gson.NewFrom(string(e.Body))
}

// PostJSON decodes the request body.
func (e *Exchange) PostJSON() gson.JSON {
	return gson.NewFrom(e.PostData)
}

// Matcher decides whether an exchange is the one a caller waits for.
//
// OnRequest is evaluated when the request is sent, OnResponse when its
// response headers arrive. Either may be nil; an exchange matches when every
// non-nil predicate accepts it.
type Matcher struct {
	Name       string
	OnRequest  func(method, url, postData string) bool
	OnResponse func(url string, status int) bool
}

// URLContains matches requests whose URL contains substr, optionally
// restricted to method.
func URLContains(substr, method string) Matcher {
	return Matcher{
		Name: "url contains " + substr,
		OnRequest: func(m, u, _ string) bool {
			if method != "" && !strings.EqualFold(m, method) {
				return false
			}
			return strings.Contains(u, substr)
		},
	}
}

// ResponseURLEquals matches responses served from exactly url.
func ResponseURLEquals(url string) Matcher {
	return Matcher{
		Name: "response url == " + url,
		OnResponse: func(u string, _ int) bool {
			return u == url
		},
	}
}
