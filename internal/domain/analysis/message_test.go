package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"vision-analyzer-go/internal/domain/image"
)

func TestBuildMessageWithoutImages(t *testing.T) {
	msg, stats, err := BuildMessage(context.Background(), &stubLoader{}, map[string]any{"title": "camera"}, nil, "rate it")
	if err != nil {
		t.Fatalf("BuildMessage: %v", err)
	}
	if msg.Role != openai.ChatMessageRoleUser {
		t.Fatalf("expected user role, got %s", msg.Role)
	}
	if len(msg.MultiContent) != 1 || msg.MultiContent[0].Type != openai.ChatMessagePartTypeText {
		t.Fatalf("expected a single text part, got %+v", msg.MultiContent)
	}
	if stats.Images != 0 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBuildMessagePreservesImageOrder(t *testing.T) {
	// 先完成的图片不应排到前面
	loader := &stubLoader{delays: map[string]time.Duration{
		"a": 30 * time.Millisecond,
		"b": 10 * time.Millisecond,
		"c": 0,
	}}
	images := []image.Source{{Path: "a"}, {Path: "b"}, {Path: "c"}}

	msg, stats, err := MessageBuilder{Loader: loader, Concurrency: 3}.Build(context.Background(), map[string]any{}, images, "x")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msg.MultiContent) != 4 {
		t.Fatalf("expected 3 images + text, got %d parts", len(msg.MultiContent))
	}
	for i, want := range []string{"a", "b", "c"} {
		part := msg.MultiContent[i]
		if part.Type != openai.ChatMessagePartTypeImageURL {
			t.Fatalf("part %d: expected image_url, got %s", i, part.Type)
		}
		if part.ImageURL.URL != "data:image/png;base64,"+want {
			t.Fatalf("part %d: expected %s, got %s", i, want, part.ImageURL.URL)
		}
	}
	if msg.MultiContent[3].Type != openai.ChatMessagePartTypeText {
		t.Fatal("text part must come last")
	}
	if stats.Images != 3 {
		t.Fatalf("expected 3 images, got %d", stats.Images)
	}
}

func TestBuildMessageSkipsUnreadableImage(t *testing.T) {
	loader := &stubLoader{failures: map[string]bool{"b": true}}
	images := []image.Source{{Path: "a"}, {Path: "b"}, {Path: "c"}}

	msg, stats, err := BuildMessage(context.Background(), loader, map[string]any{}, images, "x")
	if err != nil {
		t.Fatalf("BuildMessage: %v", err)
	}
	if len(msg.MultiContent) != 3 {
		t.Fatalf("expected 2 images + text, got %d parts", len(msg.MultiContent))
	}
	if msg.MultiContent[0].ImageURL.URL != "data:image/png;base64,a" || msg.MultiContent[1].ImageURL.URL != "data:image/png;base64,c" {
		t.Fatalf("unexpected image parts: %+v", msg.MultiContent[:2])
	}
	if stats.Images != 2 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBuildMessageCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := BuildMessage(ctx, &stubLoader{}, map[string]any{}, []image.Source{{Path: "a"}}, "x")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRenderText(t *testing.T) {
	record := map[string]any{
		"title": "相机 <Pro>",
		"price": 1999,
		"attrs": map[string]any{"z": 1, "a": 2},
	}
	text, err := RenderText(record, "请给出评分。\n只输出 JSON")
	if err != nil {
		t.Fatalf("RenderText: %v", err)
	}

	want := LeadIn + "\n\n```json\n" +
		"{\n" +
		"  \"attrs\": {\n" +
		"    \"a\": 2,\n" +
		"    \"z\": 1\n" +
		"  },\n" +
		"  \"price\": 1999,\n" +
		"  \"title\": \"相机 <Pro>\"\n" +
		"}\n```\n\n" +
		"请给出评分。\n只输出 JSON\n"
	if text != want {
		t.Fatalf("unexpected text:\n%s\nwant:\n%s", text, want)
	}
}

func TestRenderTextRejectsUnserializableRecord(t *testing.T) {
	_, err := RenderText(map[string]any{"ch": make(chan int)}, "x")
	if !errors.Is(err, ErrRecordEncoding) {
		t.Fatalf("expected ErrRecordEncoding, got %v", err)
	}
}
