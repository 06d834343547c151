package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/paywatch/models"
)

func TestURLContains(t *testing.T) {
	m := URLContains("api-gateway/graphql", "POST")

	tests := []struct {
		method, url string
		want        bool
	}{
		{"POST", "https://onx.example/api-gateway/graphql", true},
		{"post", "https://onx.example/api-gateway/graphql?x=1", true},
		{"GET", "https://onx.example/api-gateway/graphql", false},
		{"POST", "https://onx.example/api/other", false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.url, func(t *testing.T) {
			if got := m.OnRequest(tt.method, tt.url, ""); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	anyMethod := URLContains("cashbox/deposit/methods", "")
	require.True(t, anyMethod.OnRequest("GET", "https://p.example/cashbox/deposit/methods?lang=ru", ""))
	require.Nil(t, anyMethod.OnResponse)
}

func TestResponseURLEquals(t *testing.T) {
	m := ResponseURLEquals("https://m.example/api/v4/cashbox/payment_methods")
	require.Nil(t, m.OnRequest)
	require.True(t, m.OnResponse("https://m.example/api/v4/cashbox/payment_methods", 200))
	require.False(t, m.OnResponse("https://m.example/api/v4/cashbox/payment_methods?page=2", 200))
}

func TestExchangeJSON(t *testing.T) {
	ex := &Exchange{
		PostData: `[{"operationName":"Captcha"}]`,
		Body:     []byte(`[{"data":{"reCaptcha":{"captchaId":"0x4AAA"}}}]`),
	}
	key, ok := ex.JSON().Gets(0, "data", "reCaptcha", "captchaId")
	require.True(t, ok)
	require.Equal(t, "0x4AAA", key.Str())

	op, ok := ex.PostJSON().Gets(0, "operationName")
	require.True(t, ok)
	require.Equal(t, "Captcha", op.Str())
}

func TestBlockedSet(t *testing.T) {
	set := blockedSet([]string{"Image", " font ", "Script", "media"})
	require.Len(t, set, 3)
	require.Contains(t, set, proto.NetworkResourceTypeImage)
	require.Contains(t, set, proto.NetworkResourceTypeFont)
	require.Contains(t, set, proto.NetworkResourceTypeMedia)
	require.NotContains(t, set, proto.NetworkResourceTypeScript)

	require.Empty(t, blockedSet(nil))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), models.ErrCodeTimeout},
		{"canceled", context.Canceled, models.ErrCodeTimeout},
		{"navigation", &rod.NavigationError{Reason: "net::ERR_NAME_NOT_RESOLVED"}, models.ErrCodeNetwork},
		{"other", errors.New("boom"), models.ErrCodeExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := categorizeError(tt.err, models.ErrCodeExtraction, "step")
			require.Equal(t, tt.want, se.Code)
			require.ErrorIs(t, se, tt.err)
		})
	}
}

func TestWaitUntilString(t *testing.T) {
	require.Equal(t, "commit", WaitCommit.String())
	require.Equal(t, "domcontentloaded", WaitDOMContentLoaded.String())
	require.Equal(t, "load", WaitLoad.String())
}

func TestResponseBody(t *testing.T) {
	orig := getResponseBody
	t.Cleanup(func() { getResponseBody = orig })

	var deadline time.Time
	var hasDeadline bool
	getResponseBody = func(p *rod.Page, id proto.NetworkRequestID) (*proto.NetworkGetResponseBodyResult, error) {
		deadline, hasDeadline = p.GetContext().Deadline()
		switch id {
		case "plain":
			return &proto.NetworkGetResponseBodyResult{Body: `{"ok":true}`}, nil
		case "encoded":
			return &proto.NetworkGetResponseBodyResult{Body: base64.StdEncoding.EncodeToString([]byte("png")), Base64Encoded: true}, nil
		case "broken":
			return &proto.NetworkGetResponseBodyResult{Body: "%%%", Base64Encoded: true}, nil
		}
		return nil, errors.New("no resource with given identifier found")
	}

	s := &rodSession{page: &rod.Page{}}
	start := time.Now()

	body, err := s.responseBody(context.Background(), "plain")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(body))
	require.True(t, hasDeadline, "the body read is bounded")
	require.WithinDuration(t, start.Add(bodyReadTimeout), deadline, time.Second)

	body, err = s.responseBody(context.Background(), "encoded")
	require.NoError(t, err)
	require.Equal(t, "png", string(body))

	_, err = s.responseBody(context.Background(), "broken")
	require.Error(t, err)

	_, err = s.responseBody(context.Background(), "gone")
	require.Error(t, err)
}
