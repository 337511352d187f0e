package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func completionHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"model": "demo-model",
			"choices": []any{
				map[string]any{
					"message":       map[string]any{"content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "```json\n{\"ok\":true}\n```"))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if err := client.HealthCheck(context.Background(), "demo-model"); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL})
	if err := client.HealthCheck(context.Background(), "demo"); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestCompleteSendsPartsAndSettings(t *testing.T) {
	var captured chatCompletionRequest
	var rawMessages []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "promptloom" {
			t.Errorf("unexpected title header %q", got)
		}
		var body struct {
			chatCompletionRequest
			Messages []map[string]any `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		captured = body.chatCompletionRequest
		rawMessages = body.Messages
		completionHandler(t, "summary text")(w, r)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL, Title: "promptloom"})
	completion, err := client.Complete(context.Background(), Request{
		Model:       "demo-model",
		Temperature: 0.4,
		TopP:        0.9,
		MaxTokens:   256,
		System:      "be brief",
		Parts: []Part{
			TextPart("task"),
			PDFPart("doc.pdf", []byte("%PDF-1.4")),
			ImagePart("image/png", []byte{0x89, 0x50}),
		},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if completion.Content != "summary text" || completion.PromptTokens != 12 || completion.OutputTokens != 3 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if captured.Model != "demo-model" || captured.Temperature != 0.4 || captured.TopP != 0.9 || captured.MaxTokens != 256 {
		t.Fatalf("settings not forwarded: %+v", captured)
	}
	if len(rawMessages) != 2 || rawMessages[0]["role"] != "system" || rawMessages[1]["role"] != "user" {
		t.Fatalf("unexpected messages: %+v", rawMessages)
	}
	parts, ok := rawMessages[1]["content"].([]any)
	if !ok || len(parts) != 3 {
		t.Fatalf("expected three content parts, got %#v", rawMessages[1]["content"])
	}
	file := parts[1].(map[string]any)["file"].(map[string]any)
	if !strings.HasPrefix(file["file_data"].(string), "data:application/pdf;base64,") {
		t.Fatalf("unexpected file part %v", file)
	}
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		completionHandler(t, "done")(w, r)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL},
		WithRetryBackoff(time.Second, 4*time.Second),
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	completion, err := client.Complete(context.Background(), Request{Model: "m", Parts: []Part{TextPart("x")}})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if completion.Content != "done" {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoff sequence %v", slept)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	if _, err := client.Complete(context.Background(), Request{Model: "m", Parts: []Part{TextPart("x")}}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	if _, err := client.Complete(context.Background(), Request{Model: "m", Parts: []Part{TextPart("x")}}); err == nil {
		t.Fatal("expected api key error")
	}
}

func TestNormalizeJSONStripsFences(t *testing.T) {
	out, err := NormalizeJSON("Here you go:\n```json\n{\"a\": 1}\n```")
	if err != nil {
		t.Fatalf("NormalizeJSON returned error: %v", err)
	}
	if string(out) != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("unexpected output %q", out)
	}
}
