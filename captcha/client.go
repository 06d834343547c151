// Package captcha resolves bot-detection challenges met during login: it
// detects the widget in the page, extracts the challenge site key and has
// it solved by the CapMonster Cloud API.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/human"
	"github.com/use-agent/paywatch/metrics"
	"github.com/use-agent/paywatch/models"
)

// TaskTypeTurnstile is the CapMonster task type for Cloudflare Turnstile.
const TaskTypeTurnstile = "TurnstileTask"

// Task is one challenge handed to the solving service.
type Task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

// Solver turns a challenge into a resolution token.
type Solver interface {
	Solve(ctx context.Context, task Task) (string, error)
}

// Client talks to the CapMonster Cloud HTTP JSON API.
type Client struct {
	http         *resty.Client
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Solver = (*Client)(nil)

// NewClient creates a Client from cfg.
func NewClient(cfg config.CaptchaConfig) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		http:         client,
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		sleep:        human.Sleep,
	}
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      Task   `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	Status    string `json:"status"`
	Solution  struct {
		Token string `json:"token"`
	} `json:"solution"`
}

// Submit creates a solving task and returns its identifier.
func (c *Client) Submit(ctx context.Context, task Task) (int64, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(createTaskRequest{ClientKey: c.apiKey, Task: task}).
		Post("/createTask")
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeSubmissionFailed, "createTask request failed", err)
	}

	var out createTaskResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return 0, models.NewScrapeError(models.ErrCodeSubmissionFailed,
			fmt.Sprintf("createTask returned HTTP %d with an unreadable body", res.StatusCode()), err)
	}
	if out.ErrorID != 0 {
		return 0, models.NewScrapeError(models.ErrCodeSubmissionFailed,
			fmt.Sprintf("solving service rejected the task: errorId=%d %s %s", out.ErrorID, out.ErrorCode, out.ErrorDescription), nil)
	}

	slog.Info("captcha task submitted", "taskId", out.TaskID, "type", task.Type)
	return out.TaskID, nil
}

// Poll queries the task result every poll interval until it is ready or
// timeout elapses. Transport errors and error payloads are treated as "not
// ready" within this call only.
func (c *Client) Poll(ctx context.Context, taskID int64, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		token, ready, err := c.query(ctx, taskID)
		switch {
		case ready:
			slog.Info("captcha solved", "taskId", taskID, "attempts", attempt, "token", truncate(token, 16))
			return token, nil
		case err != nil:
			slog.Warn("captcha result not available yet", "taskId", taskID, "attempt", attempt, "error", err)
		}

		if err := c.sleep(ctx, c.pollInterval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", models.NewScrapeError(models.ErrCodeTimeout,
					fmt.Sprintf("captcha task %d not solved within %s", taskID, timeout), err)
			}
			return "", models.NewScrapeError(models.ErrCodeTimeout, "captcha polling aborted", err)
		}
	}
}

// Solve submits task and polls it with the configured timeout.
func (c *Client) Solve(ctx context.Context, task Task) (string, error) {
	id, err := c.Submit(ctx, task)
	if err != nil {
		metrics.CaptchaSolvesTotal.WithLabelValues(models.ErrCodeSubmissionFailed).Inc()
		return "", err
	}
	token, err := c.Poll(ctx, id, c.timeout)
	if err != nil {
		metrics.CaptchaSolvesTotal.WithLabelValues(models.CodeOf(err)).Inc()
		return "", err
	}
	metrics.CaptchaSolvesTotal.WithLabelValues("solved").Inc()
	return token, nil
}

func (c *Client) query(ctx context.Context, taskID int64) (token string, ready bool, err error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(taskResultRequest{ClientKey: c.apiKey, TaskID: taskID}).
		Post("/getTaskResult")
	if err != nil {
		return "", false, err
	}

	var out taskResultResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return "", false, fmt.Errorf("HTTP %d: %w", res.StatusCode(), err)
	}
	if out.ErrorID != 0 {
		return "", false, fmt.Errorf("errorId=%d %s", out.ErrorID, out.ErrorCode)
	}
	if out.Status != "ready" {
		return "", false, nil
	}
	if out.Solution.Token == "" {
		return "", false, errors.New("ready without a token")
	}
	return out.Solution.Token, true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
