package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/paywatch/models"
)

// bodyReadTimeout bounds fetching a captured response body. The exchange
// has already finished loading, so the body is in the browser's buffer.
const bodyReadTimeout = 10 * time.Second

// getResponseBody is replaced in tests.
var getResponseBody = func(p *rod.Page, id proto.NetworkRequestID) (*proto.NetworkGetResponseBodyResult, error) {
	return proto.NetworkGetResponseBody{RequestID: id}.Call(p)
}

// responseBody reads and decodes the body of a finished request.
func (s *rodSession) responseBody(ctx context.Context, id proto.NetworkRequestID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, bodyReadTimeout)
	defer cancel()

	res, err := getResponseBody(s.page.Context(ctx), id)
	if err != nil {
		return nil, err
	}
	if !res.Base64Encoded {
		return []byte(res.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(res.Body)
	if err != nil {
		return nil, fmt.Errorf("malformed response body: %w", err)
	}
	return decoded, nil
}

// pending tracks one in-flight exchange seen on the Network domain.
type pending struct {
	ex         Exchange
	reqOK      bool
	respOK     bool
	hasPost    bool
	postLoaded bool
}

// Expect subscribes to Network events BEFORE running trigger, so the
// exchange cannot slip through between the action and the listener. The
// first exchange accepted by m that finishes loading is returned with its
// body. If none finishes within the session timeout the error is Timeout.
func (s *rodSession) Expect(ctx context.Context, m Matcher, trigger func(ctx context.Context) error) (*Exchange, error) {
	p, cancel := s.bind(ctx)
	defer cancel()

	inflight := make(map[proto.NetworkRequestID]*pending)
	var (
		matchedID proto.NetworkRequestID
		matched   *pending
	)

	accept := func(pd *pending) bool {
		return (m.OnRequest == nil || pd.reqOK) && (m.OnResponse == nil || pd.respOK)
	}

	wait := p.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			pd := &pending{ex: Exchange{
				Method:   e.Request.Method,
				URL:      e.Request.URL,
				PostData: e.Request.PostData,
			}, hasPost: e.Request.HasPostData}
			pd.postLoaded = pd.ex.PostData != "" || !pd.hasPost
			if m.OnRequest != nil {
				pd.reqOK = m.OnRequest(pd.ex.Method, pd.ex.URL, pd.ex.PostData)
				// Bodies elided from the event are checked again once loaded.
				if !pd.reqOK && pd.postLoaded {
					return
				}
			}
			inflight[e.RequestID] = pd
		},
		func(e *proto.NetworkResponseReceived) {
			pd, ok := inflight[e.RequestID]
			if !ok {
				return
			}
			pd.ex.Status = e.Response.Status
			pd.ex.ResponseURL = e.Response.URL
			if m.OnResponse != nil {
				pd.respOK = m.OnResponse(e.Response.URL, e.Response.Status)
			}
		},
		func(e *proto.NetworkLoadingFinished) bool {
			pd, ok := inflight[e.RequestID]
			if !ok {
				return false
			}
			delete(inflight, e.RequestID)
			if !pd.postLoaded {
				pd.loadPostData(p.GetContext(), s, e.RequestID)
				if m.OnRequest != nil {
					pd.reqOK = m.OnRequest(pd.ex.Method, pd.ex.URL, pd.ex.PostData)
				}
			}
			if !accept(pd) {
				return false
			}
			matchedID, matched = e.RequestID, pd
			return true
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(inflight, e.RequestID)
		},
	)

	if err := trigger(p.GetContext()); err != nil {
		return nil, err
	}
	wait()

	if matched == nil {
		err := p.GetContext().Err()
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, categorizeError(err, models.ErrCodeTimeout, "no network exchange matched "+m.Name)
	}

	body, err := s.responseBody(ctx, matchedID)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeNetwork, "failed to read body of "+matched.ex.URL, err)
	}
	matched.ex.Body = body

	slog.Debug("network exchange captured",
		"matcher", m.Name,
		"method", matched.ex.Method,
		"url", matched.ex.URL,
		"status", matched.ex.Status,
		"bytes", len(matched.ex.Body),
	)
	ex := matched.ex
	return &ex, nil
}

func (pd *pending) loadPostData(ctx context.Context, s *rodSession, id proto.NetworkRequestID) {
	pd.postLoaded = true
	res, err := (proto.NetworkGetRequestPostData{RequestID: id}).Call(s.page.Context(ctx))
	if err != nil {
		slog.Debug("request body unavailable", "url", pd.ex.URL, "error", fmt.Sprint(err))
		return
	}
	pd.ex.PostData = res.PostData
}
