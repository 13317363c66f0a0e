package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClassifier(t *testing.T, baseURL string) *Classifier {
	t.Helper()

	c, err := New(Config{APIKey: "test-key", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

func decisionTestSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func TestClassify_ReturnsToolInput(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "tool_use", "id": "toolu_01", "name": "record_decision", "input": {"action": "CREATE"}}],
			"model": "claude-3-5-haiku-latest",
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)

	raw, err := c.Classify(context.Background(), "decide", decisionTestSchema())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	var out struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Action != "CREATE" {
		t.Errorf("expected CREATE, got %q", out.Action)
	}

	// The request must force the decision tool.
	tc, ok := gotBody["tool_choice"].(map[string]interface{})
	if !ok || tc["name"] != "record_decision" {
		t.Errorf("expected forced tool_choice record_decision, got %v", gotBody["tool_choice"])
	}
	tools, ok := gotBody["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("expected exactly 1 tool, got %v", gotBody["tools"])
	}
}

func TestClassify_MissingToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "I refuse to use tools."}],
			"model": "claude-3-5-haiku-latest",
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)

	if _, err := c.Classify(context.Background(), "decide", decisionTestSchema()); err == nil {
		t.Fatal("expected error when the response carries no tool call")
	}
}

func TestClassify_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := newTestClassifier(t, srv.URL)

	if _, err := c.Classify(context.Background(), "decide", decisionTestSchema()); err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	c.ApplyDefaults()

	if c.Model == "" {
		t.Error("expected a default model")
	}
	if c.MaxTokens != 1024 {
		t.Errorf("expected default max_tokens 1024, got %d", c.MaxTokens)
	}
	if c.Temperature != 0.1 {
		t.Errorf("expected default temperature 0.1, got %v", c.Temperature)
	}
}

func TestConfigRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without an API key")
	}
}
