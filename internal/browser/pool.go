package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fusae/mailcheck/internal/httpkit"
)

// Page is the extracted content of one rendered report page.
type Page struct {
	URL      string
	Title    string
	Text     string
	Platform string
}

// Pool bounds concurrent page fetches to a fixed number of browser
// slots. Acquire/release is scoped to a single fetch; a hung fetch is
// cut off by the per-fetch timeout rather than poisoning a slot.
type Pool struct {
	renderer Renderer
	slots    chan struct{}
	timeout  time.Duration
	retries  int
	logger   *slog.Logger
}

// NewPool creates a pool of capacity slots over the given renderer.
func NewPool(renderer Renderer, capacity int, timeout time.Duration, retries int, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		capacity = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		renderer: renderer,
		slots:    make(chan struct{}, capacity),
		timeout:  timeout,
		retries:  retries,
		logger:   logger.With("component", "browser"),
	}
}

// Fetch renders url and extracts its content, holding one pool slot for
// the duration of the fetch. Transient failures are retried with
// backoff up to the configured count.
func (p *Pool) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			delay := httpkit.Backoff(attempt-1, time.Second, 10*time.Second)
			p.logger.Debug("retrying page fetch",
				"url", url, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
		html, err := p.renderer.Render(fetchCtx, url)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		page := ExtractPage(html)
		page.URL = url
		return page, nil
	}

	return nil, fmt.Errorf("fetch %s after %d attempts: %w", url, p.retries+1, lastErr)
}
