package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/store"
)

type apiCall struct {
	Method string
	Body   map[string]any
	Form   map[string]string
	Files  []string
}

// fakeTelegram records Bot API calls and serves queued getUpdates batches.
type fakeTelegram struct {
	mu      sync.Mutex
	calls   []apiCall
	updates [][]Update
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := apiCall{Method: path.Base(r.URL.Path)}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			call.Form = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				call.Form[k] = v[0]
			}
			for k := range r.MultipartForm.File {
				call.Files = append(call.Files, k)
			}
		}
	} else {
		_ = json.NewDecoder(r.Body).Decode(&call.Body)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var batch []Update
	if call.Method == "getUpdates" && len(f.updates) > 0 {
		batch, f.updates = f.updates[0], f.updates[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if call.Method == "getUpdates" {
		if batch == nil {
			time.Sleep(10 * time.Millisecond)
			batch = []Update{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": batch})
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
}

func (f *fakeTelegram) Calls(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTelegram) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type resultsStub struct{ recs []store.Record }

func (s resultsStub) LatestAll(context.Context) ([]store.Record, error) { return s.recs, nil }

func (s resultsStub) LatestBySite(_ context.Context, id string) (*store.Record, error) {
	for _, r := range s.recs {
		if r.SiteID == id {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

type shotsStub map[string]string

func (s shotsStub) Lookup(id string) (string, bool) {
	p, ok := s[id]
	return p, ok
}

var parsedAt = time.Date(2025, 3, 1, 9, 5, 0, 0, time.UTC)

func pincoRecord() store.Record {
	return store.Record{ID: 1, IsLatest: true, ParseResult: models.NewSuccess("pinco", "https://pinco.example/", "", []models.PaymentMethod{
		{Name: "Банковская карта", MinAmount: 100},
		{Name: "Сбп", MinAmount: 500},
	}, parsedAt)}
}

func newTestBot(t *testing.T, recs []store.Record, shots shotsStub, adminID int64) (*Bot, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := NewClient(config.TelegramConfig{Token: "123:abc", BaseURL: srv.URL})
	return NewBot(client, resultsStub{recs: recs}, shots, adminID), fake
}

func callback(data string) Update {
	return Update{UpdateID: 7, CallbackQuery: &CallbackQuery{
		ID:      "cb1",
		Data:    data,
		Message: &Message{MessageID: 55, Chat: Chat{ID: 42}},
	}}
}

func TestFormatResult(t *testing.T) {
	t.Run("methods", func(t *testing.T) {
		got := FormatResult(pincoRecord().ParseResult)
		want := "<b><a href='https://pinco.example/'>Pinco</a></b> (12:05 МСК)\n" +
			"Банковская карта: от 100₽\n" +
			"Сбп: от 500₽\n"
		require.Equal(t, want, got)
	})

	t.Run("no methods", func(t *testing.T) {
		r := models.NewFailure("onx", "https://onx.example/", models.NewScrapeError(models.ErrCodeTimeout, "x", nil), parsedAt)
		got := FormatResult(r)
		require.Equal(t, "<b><a href='https://onx.example/'>Onx</a></b> (12:05 МСК)\n⚠️ Методы пополнения не найдены\n\n", got)
	})

	t.Run("escapes markup", func(t *testing.T) {
		r := models.NewSuccess("martin", "https://martin.example/?a=1&b='2'", "",
			[]models.PaymentMethod{{Name: "Visa & <Mastercard>", MinAmount: 300}}, parsedAt)
		got := FormatResult(r)
		want := "<b><a href='https://martin.example/?a=1&amp;b=&#39;2&#39;'>Martin</a></b> (12:05 МСК)\n" +
			"Visa &amp; &lt;Mastercard&gt;: от 300₽\n"
		require.Equal(t, want, got)
	})
}

func TestBot_Start(t *testing.T) {
	bot, fake := newTestBot(t, nil, nil, 0)
	bot.handle(context.Background(), Update{Message: &Message{Chat: Chat{ID: 42}, Text: "/start"}})

	sent := fake.Calls("sendMessage")
	require.Len(t, sent, 1)
	require.Equal(t, GreetingText, sent[0].Body["text"])
	require.EqualValues(t, 42, sent[0].Body["chat_id"])

	markup := sent[0].Body["reply_markup"].(map[string]any)
	require.Equal(t, true, markup["is_persistent"])
	row := markup["keyboard"].([]any)[0].([]any)
	require.Equal(t, GetDataButton, row[0].(map[string]any)["text"])
}

func TestBot_GetData(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		bot, fake := newTestBot(t, nil, nil, 0)
		bot.handle(context.Background(), callback("get_data"))

		answers := fake.Calls("answerCallbackQuery")
		require.Len(t, answers, 1)
		require.Equal(t, LoadingText, answers[0].Body["text"])

		sent := fake.Calls("sendMessage")
		require.Len(t, sent, 1)
		require.Equal(t, NoDataText, sent[0].Body["text"])
	})

	t.Run("button renders every site", func(t *testing.T) {
		onx := store.Record{ID: 2, IsLatest: true, ParseResult: models.NewSuccess("onx", "https://onx.example/", "", nil, parsedAt)}
		bot, fake := newTestBot(t, []store.Record{onx, pincoRecord()}, nil, 0)
		bot.handle(context.Background(), Update{Message: &Message{Chat: Chat{ID: 42}, Text: GetDataButton}})

		sent := fake.Calls("sendMessage")
		require.Len(t, sent, 3)
		require.Equal(t, LoadingText, sent[0].Body["text"])
		require.Contains(t, sent[1].Body["text"], NoMethodsText)
		require.Equal(t, "HTML", sent[2].Body["parse_mode"])

		markup := sent[2].Body["reply_markup"].(map[string]any)
		btn := markup["inline_keyboard"].([]any)[0].([]any)[0].(map[string]any)
		require.Equal(t, ShowShotButton, btn["text"])
		require.Equal(t, "show_screenshot:pinco", btn["callback_data"])
	})
}

func TestBot_ShowScreenshot(t *testing.T) {
	t.Run("missing file alerts", func(t *testing.T) {
		bot, fake := newTestBot(t, nil, shotsStub{}, 0)
		bot.handle(context.Background(), callback("show_screenshot:pinco"))

		answers := fake.Calls("answerCallbackQuery")
		require.Len(t, answers, 1)
		require.Equal(t, ShotMissingText, answers[0].Body["text"])
		require.Equal(t, true, answers[0].Body["show_alert"])
		require.Empty(t, fake.Calls("editMessageMedia"))
	})

	t.Run("uploads photo", func(t *testing.T) {
		png := filepath.Join(t.TempDir(), "pinco.png")
		require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o644))

		bot, fake := newTestBot(t, nil, shotsStub{"pinco": png}, 0)
		bot.handle(context.Background(), callback("show_screenshot:pinco"))

		edits := fake.Calls("editMessageMedia")
		require.Len(t, edits, 1)
		require.Equal(t, []string{"photo"}, edits[0].Files)
		require.Equal(t, "42", edits[0].Form["chat_id"])
		require.Equal(t, "55", edits[0].Form["message_id"])
		require.Contains(t, edits[0].Form["media"], "attach://photo")
		require.Contains(t, edits[0].Form["reply_markup"], "hide_screenshot:pinco")

		answers := fake.Calls("answerCallbackQuery")
		require.Len(t, answers, 1)
		require.Nil(t, answers[0].Body["show_alert"])
	})
}

func TestBot_HideScreenshot(t *testing.T) {
	t.Run("restores text", func(t *testing.T) {
		bot, fake := newTestBot(t, []store.Record{pincoRecord()}, nil, 0)
		bot.handle(context.Background(), callback("hide_screenshot:pinco"))

		require.Len(t, fake.Calls("deleteMessage"), 1)
		sent := fake.Calls("sendMessage")
		require.Len(t, sent, 1)
		require.Equal(t, FormatResult(pincoRecord().ParseResult), sent[0].Body["text"])
	})

	t.Run("unknown site alerts", func(t *testing.T) {
		bot, fake := newTestBot(t, nil, nil, 0)
		bot.handle(context.Background(), callback("hide_screenshot:ghost"))

		answers := fake.Calls("answerCallbackQuery")
		require.Len(t, answers, 1)
		require.Equal(t, NotFoundText, answers[0].Body["text"])
		require.Empty(t, fake.Calls("deleteMessage"))
	})
}

func TestBot_NotifyBatch(t *testing.T) {
	results := []models.ParseResult{pincoRecord().ParseResult}

	bot, fake := newTestBot(t, nil, nil, 0)
	bot.NotifyBatch(context.Background(), results)
	require.Zero(t, fake.Total(), "no admin configured")

	bot, fake = newTestBot(t, nil, nil, 99)
	bot.NotifyBatch(context.Background(), results)
	sent := fake.Calls("sendMessage")
	require.Len(t, sent, 1)
	require.EqualValues(t, 99, sent[0].Body["chat_id"])
}

func TestBot_RunPollsUntilCancelled(t *testing.T) {
	bot, fake := newTestBot(t, nil, nil, 0)
	fake.updates = [][]Update{{{UpdateID: 10, Message: &Message{Chat: Chat{ID: 42}, Text: "/start"}}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fake.Calls("sendMessage")) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		polls := fake.Calls("getUpdates")
		return len(polls) >= 2 && polls[len(polls)-1].Body["offset"] == float64(11)
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	require.Len(t, fake.Calls("deleteWebhook"), 1)
}
