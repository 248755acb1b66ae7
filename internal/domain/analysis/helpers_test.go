package analysis

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"vision-analyzer-go/internal/domain/image"
	"vision-analyzer-go/internal/domain/settings"
	"vision-analyzer-go/internal/platform/logging"
)

var errUnreadable = errors.New("unreadable")

// stubLoader encodes the path itself as the payload so tests can check order.
type stubLoader struct {
	failures map[string]bool
	delays   map[string]time.Duration
	calls    atomic.Int64
}

func (l *stubLoader) Load(ctx context.Context, src image.Source) (image.Encoded, error) {
	l.calls.Add(1)
	if d := l.delays[src.Path]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return image.Encoded{}, ctx.Err()
		}
	}
	if l.failures[src.Path] {
		return image.Encoded{}, errUnreadable
	}
	return image.Encoded{Base64: src.Path, MIMEType: "image/png", Size: int64(len(src.Path))}, nil
}

// stubTransport records requests and answers through respond.
type stubTransport struct {
	mu       sync.Mutex
	requests []CompletionRequest
	respond  func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

func (s *stubTransport) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.respond == nil {
		return textResponse(`{"ok": true}`), nil
	}
	return s.respond(ctx, req)
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubTransport) last() CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func textResponse(text string) CompletionResponse {
	return CompletionResponse{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
		Choices: 1,
	}
}

func configuredSnapshot() settings.Snapshot {
	return settings.Snapshot{
		APIKey:    "sk-test",
		BaseURL:   "https://api.example.com/v1",
		ModelName: "gpt-4o-mini",
	}
}

// bufferLogger 把日志写入内存，便于断言
func bufferLogger() (*logging.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	logger, _ := logging.New(logging.Config{Level: "debug", Console: buf})
	return logger, buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var recordIDPattern = regexp.MustCompile(`"id": (\d+)`)

func recordIDFromRequest(req CompletionRequest) int {
	parts := req.Messages[0].MultiContent
	text := parts[len(parts)-1].Text
	m := recordIDPattern.FindStringSubmatch(text)
	if m == nil {
		return -1
	}
	id, _ := strconv.Atoi(m[1])
	return id
}
