package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/feedback"
)

type fakeQueue struct {
	nextID uint64
	calls  atomic.Int32
}

func (f *fakeQueue) EnqueueFeedback(ctx context.Context, userID, sentimentID string) (uint64, error) {
	f.calls.Add(1)
	return f.nextID, nil
}

func testAlert() Alert {
	return Alert{
		SentimentID: "sent-1",
		Hospital:    "XX市第一人民医院",
		Title:       "病历外泄",
		Severity:    "high",
		Source:      "weibo",
		Body:        "正文内容",
		Reason:      "隐私泄露",
		URL:         "https://vendor.example/r?id=abc",
		EventTotal:  1,
	}
}

func newNotifier(webhooks []string, retries int) (*Notifier, *fakeQueue) {
	q := &fakeQueue{nextID: 42}
	signer := feedback.NewSigner("hunter2", time.Hour)
	cfg := config.NotificationConfig{Webhooks: webhooks, Retries: retries}
	return New(cfg, q, signer, "https://dash.example.com", slog.Default()), q
}

func TestNotifyDeliversTypedPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	n, q := newNotifier([]string{srv.URL}, 0)
	n.Notify(context.Background(), testAlert())

	if q.calls.Load() != 1 {
		t.Errorf("enqueue calls = %d, want 1", q.calls.Load())
	}
	if got.Title != "病历外泄" || got.Hospital != "XX市第一人民医院" {
		t.Errorf("payload = %+v", got)
	}
	if got.Severity != "high" {
		t.Errorf("severity = %q, want literal high", got.Severity)
	}
	if got.EventTotal != 1 {
		t.Errorf("event_total = %d, want 1", got.EventTotal)
	}
	if got.FeedbackURL == "" {
		t.Error("payload must carry the signed feedback URL")
	}
}

func TestNotifyRetriesOn5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	n, _ := newNotifier([]string{srv.URL}, 2)
	n.Notify(context.Background(), testAlert())

	if hits.Load() != 2 {
		t.Errorf("webhook hits = %d, want 2 (one failure, one retry)", hits.Load())
	}
}

func TestNotifyNoRetryOn4xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, _ := newNotifier([]string{srv.URL}, 3)
	n.Notify(context.Background(), testAlert())

	if hits.Load() != 1 {
		t.Errorf("webhook hits = %d, want 1 (4xx is terminal)", hits.Load())
	}
}

func TestNotifyAllWebhooksDespiteFailure(t *testing.T) {
	var okHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits.Add(1)
	}))
	defer good.Close()

	n, _ := newNotifier([]string{bad.URL, good.URL}, 0)
	n.Notify(context.Background(), testAlert())

	if okHits.Load() != 1 {
		t.Errorf("second webhook hits = %d, want 1 (failures must not block others)", okHits.Load())
	}
}

func TestNotifyNoWebhooksIsNoop(t *testing.T) {
	n, q := newNotifier(nil, 0)
	n.Notify(context.Background(), testAlert())

	if q.calls.Load() != 0 {
		t.Error("no webhooks configured: nothing should be enqueued")
	}
}
