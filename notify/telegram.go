// Package notify delivers parse results to operators over a Telegram bot:
// on demand through chat commands and buttons, and pushed to the admin chat
// after every batch.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/paywatch/config"
)

// Update is one incoming Bot API update. Only the fields the bot reads are
// decoded.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data,omitempty"`
	Message *Message `json:"message,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	IsPersistent   bool               `json:"is_persistent,omitempty"`
	ResizeKeyboard bool               `json:"resize_keyboard,omitempty"`
}

type KeyboardButton struct {
	Text string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client for the bot identified by cfg.Token.
func NewClient(cfg config.TelegramConfig) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token)
	// Long polling holds getUpdates open for up to pollTimeout.
	client.SetTimeout(pollTimeout + 15*time.Second)
	return &Client{http: client}
}

// call posts a JSON body to method and decodes the result into out when out
// is not nil.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return decode(method, res, out)
}

func decode(method string, res *resty.Response, out any) error {
	var env apiResponse
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return fmt.Errorf("telegram %s: HTTP %d: %w", method, res.StatusCode(), err)
	}
	if !env.OK {
		return fmt.Errorf("telegram %s: %d %s", method, env.ErrorCode, env.Description)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// SendMessage sends an HTML message to chatID. markup may be nil.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup any) error {
	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if markup != nil {
		body["reply_markup"] = markup
	}
	return c.call(ctx, "sendMessage", body, nil)
}

// EditMessagePhoto replaces a message's content with the photo at path.
func (c *Client) EditMessagePhoto(ctx context.Context, chatID, messageID int64, path string, markup any) error {
	media, err := json.Marshal(map[string]string{"type": "photo", "media": "attach://photo"})
	if err != nil {
		return err
	}
	form := map[string]string{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": strconv.FormatInt(messageID, 10),
		"media":      string(media),
	}
	if markup != nil {
		raw, err := json.Marshal(markup)
		if err != nil {
			return err
		}
		form["reply_markup"] = string(raw)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetFile("photo", path).
		Post("/editMessageMedia")
	if err != nil {
		return fmt.Errorf("telegram editMessageMedia: %w", err)
	}
	return decode("editMessageMedia", res, nil)
}

// DeleteMessage deletes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

// AnswerCallback acknowledges a button press, optionally with a toast or an
// alert.
func (c *Client) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	body := map[string]any{"callback_query_id": id}
	if text != "" {
		body["text"] = text
		body["show_alert"] = alert
	}
	return c.call(ctx, "answerCallbackQuery", body, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// DeleteWebhook switches the bot to long polling.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}
