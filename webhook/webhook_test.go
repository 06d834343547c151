package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

func TestDeliver_Signed(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	err := n.Deliver(context.Background(), &Event{Type: EventBatchCompleted, JobID: "batch-1", Timestamp: 1})
	require.NoError(t, err)
	require.Equal(t, Sign("s3cret", gotBody), gotSig)
	require.True(t, strings.HasPrefix(gotSig, "sha256="))
}

func TestDeliver_Unsigned(t *testing.T) {
	var hasSig atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSig.Store(r.Header.Get(SignatureHeader) != "")
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	require.NoError(t, n.Deliver(context.Background(), &Event{Type: EventBatchCompleted}))
	require.False(t, hasSig.Load())
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	err := n.Deliver(context.Background(), &Event{Type: EventBatchCompleted})
	require.ErrorContains(t, err, "status 502")
}

func TestBatchCompleted_RetriesUntilDelivered(t *testing.T) {
	var attempts atomic.Int32
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	results := []models.ParseResult{
		models.NewSuccess("pinco", "https://pinco.example/", "", []models.PaymentMethod{{Name: "Сбп", MinAmount: 500}}, at),
		models.NewFailure("onx", "https://onx.example/", models.NewScrapeError(models.ErrCodeTimeout, "login", nil), at),
	}
	n.BatchCompleted(context.Background(), results)
	n.Wait()

	require.EqualValues(t, 3, attempts.Load())
	ev := <-received
	require.Equal(t, EventBatchCompleted, ev.Type)
	require.True(t, strings.HasPrefix(ev.JobID, "batch-"))
	_, err := uuid.Parse(strings.TrimPrefix(ev.JobID, "batch-"))
	require.NoError(t, err, "job id carries a uuid")

	data := ev.Data.(map[string]any)
	require.EqualValues(t, 2, data["sites"])
	require.EqualValues(t, 1, data["failed"])
	require.Len(t, data["results"], 2)
}

func TestNewJobID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := newJobID()
		require.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
	}
}
