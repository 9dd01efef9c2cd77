package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fusae/mailcheck/internal/config"
)

func llmConfig(url string, retries int) config.AIConfig {
	return config.AIConfig{
		APIURL:         url,
		APIKey:         "k",
		Model:          "test-model",
		MaxTokens:      512,
		Temperature:    0.2,
		TimeoutSeconds: 5,
		Retries:        retries,
	}
}

func chatBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return b
}

func TestChatSendsContract(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(chatBody("ok"))
	}))
	defer srv.Close()

	c := NewLLMClient(llmConfig(srv.URL, 0), 2, slog.Default())
	content, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if content != "ok" {
		t.Errorf("content = %q", content)
	}
	if got.Model != "test-model" || got.MaxTokens != 512 || got.Temperature != 0.2 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if auth != "Bearer k" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestChatRetriesOn5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(chatBody("recovered"))
	}))
	defer srv.Close()

	c := NewLLMClient(llmConfig(srv.URL, 2), 1, slog.Default())
	content, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if content != "recovered" {
		t.Errorf("content = %q", content)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestChat4xxIsFatal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewLLMClient(llmConfig(srv.URL, 3), 1, slog.Default())
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error for 4xx")
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 (no retry on 4xx)", hits.Load())
	}
}

func TestChatExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewLLMClient(llmConfig(srv.URL, 2), 1, slog.Default())
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewLLMClient(llmConfig(srv.URL, 0), 1, slog.Default())
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
