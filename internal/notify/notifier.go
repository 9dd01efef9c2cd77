// Package notify pushes alert payloads to the configured chat webhooks.
// Alerts fire for first-of-event sentiments and for escalations to high
// severity; each alert carries a signed feedback link so reviewers can
// confirm or dismiss the item from the chat message.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/feedback"
	"github.com/fusae/mailcheck/internal/httpkit"
)

// maxBodyPreview caps the article text included in the chat payload.
const maxBodyPreview = 500

// Alert is everything the notifier needs about one dispatchable
// sentiment.
type Alert struct {
	SentimentID string
	Hospital    string
	Title       string
	Severity    string
	Source      string
	Body        string
	Reason      string
	URL         string
	EventTotal  int
}

// payload is the wire format POSTed to each webhook.
type payload struct {
	Title       string `json:"title"`
	Hospital    string `json:"hospital"`
	Severity    string `json:"severity"`
	Source      string `json:"source"`
	Body        string `json:"body"`
	Reason      string `json:"reason"`
	URL         string `json:"url"`
	EventTotal  int    `json:"event_total"`
	FeedbackURL string `json:"feedback_url"`
}

// Queue creates the feedback-queue row an alert's signed link refers
// to. Implemented by the store.
type Queue interface {
	EnqueueFeedback(ctx context.Context, userID, sentimentID string) (uint64, error)
}

// Notifier dispatches alerts to all configured webhooks.
type Notifier struct {
	cfg    config.NotificationConfig
	queue  Queue
	signer *feedback.Signer
	base   string
	client *http.Client
	logger *slog.Logger
}

// New creates a notifier. base is the dashboard base URL feedback links
// point at.
func New(cfg config.NotificationConfig, queue Queue, signer *feedback.Signer, base string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:    cfg,
		queue:  queue,
		signer: signer,
		base:   base,
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "notify"),
	}
}

// Notify enqueues the feedback record, signs the link, and POSTs the
// payload to every configured webhook. Per-webhook failures are retried
// with backoff; a webhook that stays down is logged and skipped so the
// pipeline never blocks on chat delivery.
func (n *Notifier) Notify(ctx context.Context, a Alert) {
	if len(n.cfg.Webhooks) == 0 {
		return
	}

	queueID, err := n.queue.EnqueueFeedback(ctx, "", a.SentimentID)
	if err != nil {
		n.logger.Error("feedback enqueue failed, alert dropped",
			"sentiment_id", a.SentimentID, "error", err)
		return
	}

	p := payload{
		Title:       a.Title,
		Hospital:    a.Hospital,
		Severity:    a.Severity,
		Source:      a.Source,
		Body:        extract.TruncateBody(a.Body, maxBodyPreview),
		Reason:      a.Reason,
		URL:         a.URL,
		EventTotal:  a.EventTotal,
		FeedbackURL: n.signer.BuildURL(n.base, queueID, a.SentimentID),
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("marshal alert payload", "error", err)
		return
	}

	for _, hook := range n.cfg.Webhooks {
		if err := n.post(ctx, hook, body); err != nil {
			n.logger.Error("webhook delivery failed",
				"webhook", hook,
				"sentiment_id", a.SentimentID,
				"error", err,
			)
			continue
		}
		n.logger.Info("alert dispatched",
			"webhook", hook,
			"sentiment_id", a.SentimentID,
			"severity", a.Severity,
			"event_total", a.EventTotal,
		)
	}
}

// post delivers one payload to one webhook with bounded retries.
func (n *Notifier) post(ctx context.Context, hook string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := httpkit.Backoff(attempt-1, time.Second, 15*time.Second)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		httpkit.DrainAndClose(resp.Body, 4096)

		if status >= 200 && status < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook status %d", status)
		if status >= 400 && status < 500 {
			// The endpoint rejected the payload; retrying won't help.
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %w", n.cfg.Retries+1, lastErr)
}
