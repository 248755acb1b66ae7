package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"

	"vision-analyzer-go/internal/domain/analysis"
	"vision-analyzer-go/internal/domain/image"
	"vision-analyzer-go/internal/domain/settings"
	"vision-analyzer-go/internal/platform/config"
	"vision-analyzer-go/internal/platform/storage"
	platformtesting "vision-analyzer-go/internal/platform/testing"
)

type staticSource struct{}

func (staticSource) Snapshot(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot{}, nil
}

// recordingTransport answers every call with reply and keeps the last request.
type recordingTransport struct {
	mu    sync.Mutex
	reply string
	err   error
	last  analysis.CompletionRequest
	calls int
}

func (r *recordingTransport) Complete(_ context.Context, req analysis.CompletionRequest) (analysis.CompletionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = req
	r.calls++
	if r.err != nil {
		return analysis.CompletionResponse{}, r.err
	}
	return analysis.CompletionResponse{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: r.reply},
		Choices: 1,
	}, nil
}

func (r *recordingTransport) imageParts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, part := range r.last.Messages[0].MultiContent {
		if part.Type == openai.ChatMessagePartTypeImageURL {
			n++
		}
	}
	return n
}

type fixture struct {
	imageDir  string
	engine    *gin.Engine
	transport *recordingTransport
	events    *storage.EventRepository
}

func newFixture(t *testing.T, configured bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	transport := &recordingTransport{reply: "```json\n{\"score\": 7}\n```"}
	snapshot := settings.Snapshot{}
	if configured {
		snapshot = settings.Snapshot{APIKey: "sk-test", BaseURL: "https://api.example.com/v1", ModelName: "gpt-4o-mini"}
	}

	imageDir := t.TempDir()
	security := config.DefaultConfig().Image
	security.MaxFileSize = 1024 * 1024
	security.Root = imageDir
	pipeline := analysis.NewPipeline(
		analysis.BuildClient(snapshot, analysis.WithTransport(transport)),
		image.NewLoader(security, nil),
	)
	svc := analysis.NewService(pipeline, staticSource{}, nil)

	events := storage.NewEventRepository(platformtesting.SetupTestDB(t))
	api, err := NewService(Options{Analyzer: svc, History: events, MaxFileSize: security.MaxFileSize})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	engine := gin.New()
	if err := api.Register(context.Background(), engine.Group("/api")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &fixture{imageDir: imageDir, engine: engine, transport: transport, events: events}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *fixture) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return rec.Code, env
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeView(t *testing.T, env envelope) AnalysisView {
	t.Helper()
	var view AnalysisView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestAnalyzeJSON(t *testing.T) {
	f := newFixture(t, true)

	dir := f.imageDir
	good := filepath.Join(dir, "a.png")
	if err := os.WriteFile(good, pngBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.png")

	body, _ := json.Marshal(map[string]any{
		"record":      map[string]any{"title": "相机"},
		"images":      []string{good, missing},
		"instruction": "给出评分",
	})
	code, env := f.serve(t, postJSON("/api/analysis", string(body)))
	if code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	view := decodeView(t, env)
	if view.Skipped || view.Result["score"] != float64(7) {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Images != 1 || view.SkippedImages != 1 {
		t.Fatalf("expected one image sent and one skipped, got %+v", view)
	}
	if f.transport.imageParts() != 1 {
		t.Fatalf("expected one image part, got %d", f.transport.imageParts())
	}
}

func TestAnalyzeJSONRejectsPathsOutsideImageRoot(t *testing.T) {
	f := newFixture(t, true)

	secret := filepath.Join(t.TempDir(), "secret.env")
	if err := os.WriteFile(secret, []byte("DB_PASSWORD=hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}
	notImage := filepath.Join(f.imageDir, "notes.png")
	if err := os.WriteFile(notImage, []byte("DB_PASSWORD=hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{
		"record": map[string]any{"id": 1},
		"images": []string{secret, "../" + filepath.Base(filepath.Dir(secret)) + "/secret.env", notImage},
	})
	code, env := f.serve(t, postJSON("/api/analysis", string(body)))
	if code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	view := decodeView(t, env)
	if view.Images != 0 || view.SkippedImages != 3 {
		t.Fatalf("expected every path to be skipped, got %+v", view)
	}
	if f.transport.imageParts() != 0 {
		t.Fatalf("no image part may leave the server, got %d", f.transport.imageParts())
	}
}

func TestAnalyzeAbsentOutcome(t *testing.T) {
	f := newFixture(t, false)

	code, env := f.serve(t, postJSON("/api/analysis", `{"record": {"id": 1}}`))
	if code != http.StatusOK || !env.Success {
		t.Fatalf("absent outcome must still be 200, got %d %+v", code, env)
	}
	view := decodeView(t, env)
	if !view.Skipped || view.Result != nil || view.ReasonKind != "config" || view.Reason == "" {
		t.Fatalf("unexpected view %+v", view)
	}
	if env.Message != "analysis skipped" {
		t.Fatalf("unexpected message %q", env.Message)
	}
	if f.transport.calls != 0 {
		t.Fatal("no remote call expected without settings")
	}
}

func TestAnalyzeRemoteFailure(t *testing.T) {
	f := newFixture(t, true)
	f.transport.err = errors.New("upstream 500")

	_, env := f.serve(t, postJSON("/api/analysis", `{"record": [1, 2]}`))
	view := decodeView(t, env)
	if !view.Skipped || view.ReasonKind != "transport" || !strings.Contains(view.Reason, "upstream 500") {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	f := newFixture(t, true)
	for name, body := range map[string]string{
		"malformed":      `{`,
		"missing record": `{"instruction": "x"}`,
		"null record":    `{"record": null}`,
	} {
		t.Run(name, func(t *testing.T) {
			code, env := f.serve(t, postJSON("/api/analysis", body))
			if code != http.StatusBadRequest || env.Success {
				t.Fatalf("expected 400, got %d %+v", code, env)
			}
		})
	}
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	f := newFixture(t, true)

	req := multipartRequest(t,
		map[string]string{"record": `{"sku": "A-1"}`, "instruction": "describe"},
		map[string][]byte{"one.png": pngBytes(t), "empty.png": {}, "big.png": bytes.Repeat([]byte{1}, 2*1024*1024)},
	)
	code, env := f.serve(t, req)
	if code != http.StatusOK {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	view := decodeView(t, env)
	if view.Skipped {
		t.Fatalf("expected result, got %+v", view)
	}
	if view.Images != 1 || view.SkippedImages != 2 {
		t.Fatalf("expected 1 image and 2 skipped, got %+v", view)
	}

	text := f.transport.last.Messages[0].MultiContent
	if last := text[len(text)-1]; !strings.Contains(last.Text, `"sku": "A-1"`) || !strings.HasSuffix(strings.TrimSpace(last.Text), "describe") {
		t.Fatalf("unexpected text part %q", last.Text)
	}
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, true)

	code, _ := f.serve(t, multipartRequest(t, map[string]string{"instruction": "x"}, nil))
	if code != http.StatusBadRequest {
		t.Fatalf("missing record: got %d", code)
	}
	code, _ = f.serve(t, multipartRequest(t, map[string]string{"record": "{oops"}, nil))
	if code != http.StatusBadRequest {
		t.Fatalf("invalid record JSON: got %d", code)
	}
	code, _ = f.serve(t, postJSON("/api/analysis/upload", `{"record": {}}`))
	if code != http.StatusBadRequest {
		t.Fatalf("non multipart: got %d", code)
	}
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t, true)

	code, env := f.serve(t, httptest.NewRequest(http.MethodGet, "/api/analysis/status", nil))
	var status analysis.Status
	_ = json.Unmarshal(env.Data, &status)
	if code != http.StatusOK || !status.Available || status.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected status %d %+v", code, status)
	}

	ctx := context.Background()
	for i, ok := range []bool{true, false, true} {
		if err := f.events.Save(ctx, &storage.AnalysisEvent{
			RequestID: "req-" + string(rune('a'+i)),
			Succeeded: ok,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}

	code, env = f.serve(t, httptest.NewRequest(http.MethodGet, "/api/analysis/history?limit=2", nil))
	var events []storage.AnalysisEvent
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatal(err)
	}
	if code != http.StatusOK || len(events) != 2 || events[0].RequestID != "req-c" {
		t.Fatalf("unexpected history %d %+v", code, events)
	}

	if code, _ = f.serve(t, httptest.NewRequest(http.MethodGet, "/api/analysis/history?limit=zero", nil)); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}
