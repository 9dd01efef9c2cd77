// Package classify turns scraped articles into typed verdicts. Enabled
// suppression rules and the admin keyword list are consulted first; only
// articles that pass the prefilter reach the LLM, whose JSON response is
// parsed under a strict schema and normalized.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/httpkit"
)

// LevelTrace mirrors config.LevelTrace for wire-payload logging.
const LevelTrace = slog.Level(-8)

// Message is one chat message in the LLM request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the wire request of the chat-completions endpoint.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// chatResponse is the wire response. Only the first choice's message
// content is consumed.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// statusError carries a non-2xx HTTP status through the retry loop.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("LLM API status %d: %s", e.status, e.body)
}

// retryable reports whether the call should be retried: 5xx and
// transport errors are transient, 4xx is fatal for the item.
func (e *statusError) retryable() bool {
	return e.status >= 500
}

// LLMClient calls the configured chat-completions endpoint with bounded
// concurrency, per-call timeout, and exponential backoff on transient
// failures.
type LLMClient struct {
	cfg    config.AIConfig
	client *http.Client
	sem    chan struct{}
	logger *slog.Logger
}

// NewLLMClient builds the client. maxInFlight bounds concurrent
// requests to respect vendor QPS.
func NewLLMClient(cfg config.AIConfig, maxInFlight int, logger *slog.Logger) *LLMClient {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClient{
		cfg: cfg,
		client: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout()),
			httpkit.WithLogger(logger),
		),
		sem:    make(chan struct{}, maxInFlight),
		logger: logger.With("component", "llm"),
	}
}

// Chat sends the messages and returns the first choice's content.
// Transient failures (transport errors, 5xx) are retried with backoff
// up to the configured count; 4xx returns immediately.
func (c *LLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := httpkit.Backoff(attempt-1, time.Second, 30*time.Second)
			c.logger.Debug("retrying LLM call", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, err := c.doCall(ctx, messages)
		if err == nil {
			return content, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("LLM call after %d attempts: %w", c.cfg.Retries+1, lastErr)
}

func (c *LLMClient) doCall(ctx context.Context, messages []Message) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "LLM request payload", "json", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{
			status: resp.StatusCode,
			body:   httpkit.ReadErrorBody(resp.Body, 4096),
		}
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return "", fmt.Errorf("response carries no choices")
	}

	content := wire.Choices[0].Message.Content
	c.logger.Log(ctx, LevelTrace, "LLM response content", "content", content)
	return content, nil
}
