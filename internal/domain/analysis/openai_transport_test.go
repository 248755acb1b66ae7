package analysis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"

	"vision-analyzer-go/internal/domain/image"
	"vision-analyzer-go/internal/domain/settings"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "message": {"role": "assistant", "content": "` + "```json\\n{\\\"verdict\\\": \\\"buy\\\"}\\n```" + `"},
    "finish_reason": "stop"
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

type capturedRequest struct {
	mu     sync.Mutex
	path   string
	host   string
	auth   string
	body   map[string]any
	raw    string
	called int
}

func (c *capturedRequest) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := sonic.ConfigStd.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		c.mu.Lock()
		c.path = r.URL.Path
		c.host = r.URL.Host
		c.auth = r.Header.Get("Authorization")
		c.body = body
		c.raw = string(raw)
		c.called++
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}
}

func TestOpenAITransportRequestBody(t *testing.T) {
	captured := &capturedRequest{}
	server := httptest.NewServer(captured.handler(t))
	defer server.Close()

	snap := settings.Snapshot{
		APIKey:                    `"sk-test"`,
		BaseURL:                   server.URL + "/v1",
		ModelName:                 "gpt-4o-mini",
		EnableJSONResponseFormat:  true,
		EnableThinkingSuppression: true,
	}
	pipeline := NewPipeline(BuildClient(snap), &stubLoader{})
	out := pipeline.Analyze(context.Background(), Request{
		Record:      map[string]any{"title": "camera"},
		Images:      []image.Source{{Path: "aGVsbG8="}},
		Instruction: "rate it",
	})

	result, ok := out.Result()
	if !ok {
		t.Fatalf("expected result, reason %v", out.Reason)
	}
	if result["verdict"] != "buy" {
		t.Fatalf("unexpected result %v", result)
	}

	if captured.path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %s", captured.path)
	}
	if captured.auth != "Bearer sk-test" {
		t.Fatalf("api key quotes must be stripped, got %q", captured.auth)
	}

	body := captured.body
	if body["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	if body["temperature"] != 0.1 {
		t.Fatalf("unexpected temperature %v", body["temperature"])
	}
	if body["max_tokens"] != float64(4000) {
		t.Fatalf("unexpected max_tokens %v", body["max_tokens"])
	}
	if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Fatalf("unexpected response_format %v", body["response_format"])
	}
	if body["enable_thinking"] != false {
		t.Fatalf("expected enable_thinking=false, body %s", captured.raw)
	}
	if kwargs, _ := body["chat_template_kwargs"].(map[string]any); kwargs["enable_thinking"] != false {
		t.Fatalf("expected chat_template_kwargs.enable_thinking=false, body %s", captured.raw)
	}

	messages, _ := body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["role"] != "user" {
		t.Fatalf("unexpected role %v", msg["role"])
	}
	content, _ := msg["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("expected image + text content, got %v", msg["content"])
	}
	imagePart := content[0].(map[string]any)
	if imagePart["type"] != "image_url" {
		t.Fatalf("first part must be image_url, got %v", imagePart["type"])
	}
	if url := imagePart["image_url"].(map[string]any)["url"]; url != "data:image/png;base64,aGVsbG8=" {
		t.Fatalf("unexpected image url %v", url)
	}
	textPart := content[1].(map[string]any)
	if textPart["type"] != "text" || !strings.Contains(textPart["text"].(string), "rate it") {
		t.Fatalf("unexpected text part %v", textPart)
	}
}

func TestOpenAITransportWithoutAugmentationsOmitsExtraFields(t *testing.T) {
	captured := &capturedRequest{}
	server := httptest.NewServer(captured.handler(t))
	defer server.Close()

	snap := configuredSnapshot()
	snap.BaseURL = server.URL + "/v1"
	out := NewPipeline(BuildClient(snap), nil).Analyze(context.Background(), Request{Record: map[string]any{}})
	if !out.OK() {
		t.Fatalf("expected result, reason %v", out.Reason)
	}
	for _, key := range []string{"enable_thinking", "chat_template_kwargs", "response_format"} {
		if _, present := captured.body[key]; present {
			t.Fatalf("unexpected %s in body %s", key, captured.raw)
		}
	}
}

func TestOpenAITransportThroughProxy(t *testing.T) {
	captured := &capturedRequest{}
	proxy := httptest.NewServer(captured.handler(t))
	defer proxy.Close()

	snap := configuredSnapshot()
	snap.BaseURL = "http://llm.internal.test/v1"
	snap.ProxyURL = proxy.URL

	out := NewPipeline(BuildClient(snap), nil).Analyze(context.Background(), Request{Record: map[string]any{}})
	if !out.OK() {
		t.Fatalf("expected result through proxy, reason %v", out.Reason)
	}
	if captured.called != 1 || captured.host != "llm.internal.test" {
		t.Fatalf("expected proxied request for llm.internal.test, got %d calls host=%q", captured.called, captured.host)
	}
}

func TestOpenAITransportRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`)
	}))
	defer server.Close()

	snap := configuredSnapshot()
	snap.BaseURL = server.URL + "/v1"
	out := NewPipeline(BuildClient(snap), nil).Analyze(context.Background(), Request{Record: map[string]any{}})
	if out.OK() {
		t.Fatal("expected absent outcome")
	}
	if !strings.Contains(out.Reason.Error(), "invalid api key") {
		t.Fatalf("expected remote message in reason, got %v", out.Reason)
	}
}

func TestExtraBodyTransportPassthrough(t *testing.T) {
	var got string
	rt := &extraBodyTransport{base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(r.Body)
		got = string(raw)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	})}

	req, _ := http.NewRequest(http.MethodPost, "http://example.test", strings.NewReader(`{"a":1}`))
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if got != `{"a":1}` {
		t.Fatalf("body changed without extra fields: %s", got)
	}

	ctx := withExtraBody(context.Background(), map[string]any{"b": true})
	req, _ = http.NewRequestWithContext(ctx, http.MethodPost, "http://example.test", strings.NewReader(`{"a":1}`))
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if got != `{"a":1,"b":true}` {
		t.Fatalf("unexpected merged body: %s", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
