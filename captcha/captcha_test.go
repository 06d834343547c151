package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/browser/browsertest"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
	"github.com/ysmood/gson"
)

// capmonsterStub answers createTask with createBody and getTaskResult with
// the status produced by result(n) for the n-th query (1-based).
type capmonsterStub struct {
	mu         sync.Mutex
	createBody string
	result     func(n int) string
	queries    []time.Time
}

func (st *capmonsterStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode createTask: %v", err)
		}
		if req.ClientKey != "test-key" || req.Task.Type != TaskTypeTurnstile {
			t.Errorf("unexpected createTask payload: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(st.createBody))
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		st.queries = append(st.queries, time.Now())
		n := len(st.queries)
		st.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(st.result(n)))
	})
	return mux
}

func newTestClient(url string, interval time.Duration) *Client {
	return NewClient(config.CaptchaConfig{
		APIKey:       "test-key",
		BaseURL:      url,
		PollInterval: interval,
		Timeout:      120 * time.Second,
	})
}

func TestPoll_ReadyOnFourthQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("uses real poll spacing")
	}
	stub := &capmonsterStub{result: func(n int) string {
		if n < 4 {
			return `{"errorId":0,"status":"processing"}`
		}
		return `{"errorId":0,"status":"ready","solution":{"token":"abc"}}`
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	token, err := c.Poll(context.Background(), 42, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	require.Len(t, stub.queries, 4)
	for i := 1; i < len(stub.queries); i++ {
		gap := stub.queries[i].Sub(stub.queries[i-1])
		if gap < 2*time.Second {
			t.Errorf("query %d followed the previous one after %v, want >= 2s", i+1, gap)
		}
	}
}

func TestPoll_NeverReadyTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the poll timeout")
	}
	stub := &capmonsterStub{result: func(int) string {
		return `{"errorId":0,"status":"processing"}`
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL, 2*time.Second)
	start := time.Now()
	_, err := c.Poll(context.Background(), 42, 5*time.Second)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	if elapsed < 5*time.Second || elapsed > 7*time.Second {
		t.Errorf("timed out after %v, want 5s..7s", elapsed)
	}
}

func TestPoll_TransientFailuresAreRetried(t *testing.T) {
	stub := &capmonsterStub{result: func(n int) string {
		switch n {
		case 1:
			return `not json`
		case 2:
			return `{"errorId":1,"errorCode":"ERROR_NO_SLOT_AVAILABLE"}`
		default:
			return `{"errorId":0,"status":"ready","solution":{"token":"tok"}}`
		}
	}}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Millisecond)
	token, err := c.Poll(context.Background(), 7, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "tok", token)
	require.Len(t, stub.queries, 3)
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   int64
		wantCode string
	}{
		{name: "accepted", body: `{"errorId":0,"taskId":7654321}`, wantID: 7654321},
		{name: "rejected", body: `{"errorId":1,"errorCode":"ERROR_KEY_DOES_NOT_EXIST"}`, wantCode: models.ErrCodeSubmissionFailed},
		{name: "garbage", body: `<html>`, wantCode: models.ErrCodeSubmissionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &capmonsterStub{createBody: tt.body}
			srv := httptest.NewServer(stub.handler(t))
			defer srv.Close()

			c := newTestClient(srv.URL, time.Millisecond)
			id, err := c.Submit(context.Background(), Task{Type: TaskTypeTurnstile, WebsiteURL: "https://x.example/", WebsiteKey: "0x4"})
			if tt.wantCode != "" {
				require.Error(t, err)
				require.Equal(t, tt.wantCode, models.CodeOf(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, id)
		})
	}
}

func TestSolve(t *testing.T) {
	stub := &capmonsterStub{
		createBody: `{"errorId":0,"taskId":1}`,
		result: func(int) string {
			return `{"errorId":0,"status":"ready","solution":{"token":"solved"}}`
		},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	token, err := newTestClient(srv.URL, time.Millisecond).Solve(context.Background(),
		Task{Type: TaskTypeTurnstile, WebsiteURL: "https://x.example/", WebsiteKey: "0x4"})
	require.NoError(t, err)
	require.Equal(t, "solved", token)
}

func TestDetect(t *testing.T) {
	s := &browsertest.Session{EvalFunc: func(js string, _ ...any) (gson.JSON, error) {
		require.Equal(t, detectJS, js)
		return gson.New(true), nil
	}}
	require.True(t, Detect(context.Background(), s))

	s.EvalFunc = func(string, ...any) (gson.JSON, error) { return gson.New(false), nil }
	require.False(t, Detect(context.Background(), s))
}

func TestExtractChallenge(t *testing.T) {
	s := &browsertest.Session{Exchanges: []browser.Exchange{
		{
			Method:   "POST",
			URL:      "https://onx.example/api-gateway/graphql",
			PostData: `[{"operationName":"Profile"}]`,
			Body:     []byte(`[{"data":{}}]`),
		},
		{
			Method:   "POST",
			URL:      "https://onx.example/api-gateway/graphql",
			PostData: `[{"operationName":"Captcha","variables":{}}]`,
			Body:     []byte(`[{"data":{"reCaptcha":{"captchaId":"0x4AAAAAAA"}}}]`),
		},
	}}

	key, err := ExtractChallenge(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, "0x4AAAAAAA", key)
	require.Contains(t, s.CallLog(), "reload commit")
}

func TestExtractChallenge_FallsBackToMarkup(t *testing.T) {
	s := &browsertest.Session{Page: `<html><body><div class="cf-turnstile" data-sitekey="0xMARKUP"></div></body></html>`}

	key, err := ExtractChallenge(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, "0xMARKUP", key)
}

func TestExtractChallenge_NotFound(t *testing.T) {
	s := &browsertest.Session{Page: `<html><body>nothing here</body></html>`}

	_, err := ExtractChallenge(context.Background(), s)
	require.Error(t, err)
	require.Equal(t, models.ErrCodeChallengeNotFound, models.CodeOf(err))
}

func TestChallengeMatcher(t *testing.T) {
	m := ChallengeMatcher()
	url := "https://onx.example/api-gateway/graphql"
	require.True(t, m.OnRequest("POST", url, `[{"operationName":"Captcha"}]`))
	require.False(t, m.OnRequest("GET", url, `[{"operationName":"Captcha"}]`))
	require.False(t, m.OnRequest("POST", url, `{"operationName":"Captcha"}`))
	require.False(t, m.OnRequest("POST", url, ``))
	require.False(t, m.OnRequest("POST", "https://onx.example/api/other", `[{"operationName":"Captcha"}]`))
}
