// Package browser renders report pages through a bounded pool of
// headless-browser slots and extracts the readable article content.
// The browser engine itself is an external collaborator reached over
// HTTP; when no render service is configured, pages are fetched with a
// plain GET, which covers vendor pages that do not need JavaScript.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/httpkit"
)

// maxPageBytes caps the buffered response body per page (5 MB).
const maxPageBytes int64 = 5 * 1024 * 1024

// Renderer fetches the rendered HTML of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// HTTPRenderer reaches the headless render service, or falls back to a
// direct GET when no service is configured.
type HTTPRenderer struct {
	renderURL string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPRenderer builds the production renderer from configuration.
func NewHTTPRenderer(cfg config.BrowserConfig, logger *slog.Logger) *HTTPRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRenderer{
		renderURL: cfg.RenderURL,
		client: httpkit.NewClient(
			httpkit.WithTimeout(cfg.FetchTimeout()),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "renderer"),
	}
}

// renderRequest is the wire contract of the headless render service.
type renderRequest struct {
	URL string `json:"url"`
}

type renderResponse struct {
	HTML string `json:"html"`
}

// Render returns the fully rendered HTML for url.
func (r *HTTPRenderer) Render(ctx context.Context, url string) (string, error) {
	if r.renderURL == "" {
		return r.directGet(ctx, url)
	}

	body, err := json.Marshal(renderRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.renderURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return "", fmt.Errorf("render service status %d: %s", resp.StatusCode, errBody)
	}

	var rendered renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&rendered); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	return rendered.HTML, nil
}

// directGet fetches the page without a render service.
func (r *HTTPRenderer) directGet(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.7")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		httpkit.DrainAndClose(resp.Body, 1024)
		return "", fmt.Errorf("page status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}
	return string(body), nil
}
