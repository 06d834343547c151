package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/paywatch/human"
	"github.com/use-agent/paywatch/models"
	"github.com/use-agent/paywatch/store"
)

const (
	pollTimeout  = 30 * time.Second
	retryBackoff = 3 * time.Second
)

// Results is the read side the bot renders from.
type Results interface {
	LatestAll(ctx context.Context) ([]store.Record, error)
	LatestBySite(ctx context.Context, siteID string) (*store.Record, error)
}

// Screenshots resolves the confirmation screenshot of a site.
type Screenshots interface {
	Lookup(siteID string) (path string, ok bool)
}

// Bot answers operator commands and pushes batch summaries.
type Bot struct {
	client  *Client
	results Results
	shots   Screenshots
	adminID int64
}

// NewBot creates a Bot. adminID 0 disables batch pushes.
func NewBot(client *Client, results Results, shots Screenshots, adminID int64) *Bot {
	return &Bot{client: client, results: results, shots: shots, adminID: adminID}
}

// Run long-polls for updates until ctx is cancelled. Pending updates from
// before startup are dropped.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.DeleteWebhook(ctx, true); err != nil {
		slog.Warn("telegram deleteWebhook failed", "error", err)
	}
	slog.Info("telegram bot polling started")

	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, pollTimeout)
		if ctx.Err() != nil {
			slog.Info("telegram bot stopped")
			return nil
		}
		if err != nil {
			slog.Warn("telegram getUpdates failed", "error", err)
			if err := human.Sleep(ctx, retryBackoff); err != nil {
				return nil
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			b.handle(ctx, u)
		}
	}
}

func (b *Bot) handle(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *Message) {
	chatID := m.Chat.ID
	switch {
	case m.Text == "/start" || strings.HasPrefix(m.Text, "/start "):
		b.send(ctx, chatID, GreetingText, getDataKeyboard())
	case m.Text == GetDataButton:
		b.send(ctx, chatID, LoadingText, nil)
		b.sendLatest(ctx, chatID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *CallbackQuery) {
	if q.Message == nil {
		b.answer(ctx, q.ID, NotFoundText, true)
		return
	}
	chatID := q.Message.Chat.ID

	switch {
	case q.Data == getDataCallback:
		b.answer(ctx, q.ID, LoadingText, false)
		b.sendLatest(ctx, chatID)

	case strings.HasPrefix(q.Data, showShotPrefix):
		siteID := strings.TrimPrefix(q.Data, showShotPrefix)
		path, ok := b.shots.Lookup(siteID)
		if siteID == "" || !ok {
			b.answer(ctx, q.ID, ShotMissingText, true)
			return
		}
		if err := b.client.EditMessagePhoto(ctx, chatID, q.Message.MessageID, path, hideShotKeyboard(siteID)); err != nil {
			slog.Error("showing screenshot failed", "site", siteID, "error", err)
			b.answer(ctx, q.ID, ShotFailedText, true)
			return
		}
		b.answer(ctx, q.ID, "", false)

	case strings.HasPrefix(q.Data, hideShotPrefix):
		siteID := strings.TrimPrefix(q.Data, hideShotPrefix)
		rec, err := b.results.LatestBySite(ctx, siteID)
		if err != nil || rec == nil {
			if err != nil {
				slog.Error("loading result failed", "site", siteID, "error", err)
			}
			b.answer(ctx, q.ID, NotFoundText, true)
			return
		}
		err = b.client.DeleteMessage(ctx, chatID, q.Message.MessageID)
		if err == nil {
			err = b.client.SendMessage(ctx, chatID, FormatResult(rec.ParseResult), showShotKeyboard(siteID))
		}
		if err != nil {
			slog.Error("hiding screenshot failed", "site", siteID, "error", err)
			b.answer(ctx, q.ID, FailedText, true)
			return
		}
		b.answer(ctx, q.ID, "", false)

	default:
		b.answer(ctx, q.ID, "", false)
	}
}

// sendLatest sends one message per site's latest result.
func (b *Bot) sendLatest(ctx context.Context, chatID int64) {
	recs, err := b.results.LatestAll(ctx)
	if err != nil {
		slog.Error("loading latest results failed", "error", err)
	}
	results := make([]models.ParseResult, len(recs))
	for i, r := range recs {
		results[i] = r.ParseResult
	}
	b.sendResults(ctx, chatID, results)
}

func (b *Bot) sendResults(ctx context.Context, chatID int64, results []models.ParseResult) {
	if len(results) == 0 {
		b.send(ctx, chatID, NoDataText, nil)
		return
	}
	for _, r := range results {
		b.send(ctx, chatID, FormatResult(r), showShotKeyboard(r.SiteID))
	}
}

// NotifyBatch pushes a finished batch to the admin chat. It matches
// engine.BatchHook.
func (b *Bot) NotifyBatch(ctx context.Context, results []models.ParseResult) {
	if b.adminID == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	b.sendResults(ctx, b.adminID, results)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup any) {
	if err := b.client.SendMessage(ctx, chatID, text, markup); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("telegram sendMessage failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, id, text string, alert bool) {
	if err := b.client.AnswerCallback(ctx, id, text, alert); err != nil {
		slog.Warn("telegram answerCallbackQuery failed", "error", err)
	}
}
