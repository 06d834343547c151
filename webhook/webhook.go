package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

// EventBatchCompleted is sent after every batch.
const EventBatchCompleted = "batch.completed"

// SignatureHeader carries "sha256=<hex>" when a secret is configured.
const SignatureHeader = "X-Paywatch-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// BatchData is the Data of a batch.completed event.
type BatchData struct {
	Sites   int                  `json:"sites"`
	Failed  int                  `json:"failed"`
	Results []models.ParseResult `json:"results"`
}

// Notifier delivers events to one endpoint.
type Notifier struct {
	http   *resty.Client
	url    string
	secret string

	// delays between attempts; the first is normally zero.
	delays []time.Duration
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a Notifier for cfg.URL.
func New(cfg config.WebhookConfig) *Notifier {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "Paywatch-Webhook/1.0")

	return &Notifier{
		http:   client,
		url:    cfg.URL,
		secret: cfg.Secret,
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
		now:    time.Now,
	}
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends event synchronously. The body is signed if a secret is set.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := n.http.R().SetContext(ctx).SetBody(body)
	if n.secret != "" {
		req.SetHeader(SignatureHeader, Sign(n.secret, body))
	}
	res, err := req.Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if res.StatusCode() >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", res.StatusCode())
	}
	return nil
}

// DeliverAsync sends event in the background, retrying on failure.
func (n *Notifier) DeliverAsync(event *Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for attempt, delay := range n.delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := n.Deliver(ctx, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"event", event.Type,
					"job_id", event.JobID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"event", event.Type,
			"job_id", event.JobID,
		)
	}()
}

// BatchCompleted queues a batch.completed event. It matches
// engine.BatchHook.
func (n *Notifier) BatchCompleted(_ context.Context, results []models.ParseResult) {
	data := BatchData{Sites: len(results), Results: results}
	for _, r := range results {
		if r.Status == models.StatusError {
			data.Failed++
		}
	}
	n.DeliverAsync(&Event{
		Type:      EventBatchCompleted,
		JobID:     newJobID(),
		Timestamp: n.now().Unix(),
		Data:      data,
	})
}

// Wait blocks until queued deliveries finish or give up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func newJobID() string {
	return "batch-" + uuid.NewString()
}
