package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vision-analyzer-go/internal/domain/eventbus"
	"vision-analyzer-go/internal/domain/settings"
	"vision-analyzer-go/internal/domain/settings/store"
	platformerrors "vision-analyzer-go/internal/platform/errors"
)

type failingSource struct{ err error }

func (f failingSource) Snapshot(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot{}, f.err
}

func newSettingsFixture(t *testing.T) (*settings.Service, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(1, nil)
	bus.Start()
	t.Cleanup(bus.Stop)
	return settings.NewService(store.NewMemory(), bus, nil), bus
}

func TestServiceRebuildsClientOnSettingsChange(t *testing.T) {
	ctx := context.Background()
	svc, bus := newSettingsFixture(t)
	transport := &stubTransport{}

	pipeline := NewPipeline(nil, &stubLoader{})
	analysis := NewService(pipeline, svc, nil, WithTransport(transport))
	if err := analysis.Attach(bus); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	analysis.Refresh(ctx)

	if analysis.Status().Available {
		t.Fatal("expected unavailable client before settings are stored")
	}
	if out := analysis.Analyze(ctx, Request{Record: map[string]any{}}); out.OK() || !errors.Is(out.Reason, ErrConfigurationIncomplete) {
		t.Fatalf("expected configuration reason, got %v", out.Reason)
	}

	for key, value := range map[string]string{
		settings.KeyAPIKey:    `"sk-test"`,
		settings.KeyBaseURL:   "https://api.example.com/v1",
		settings.KeyModelName: "gpt-4o-mini",
	} {
		if err := svc.Set(ctx, key, value); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	status := analysis.Status()
	if !status.Available || status.Model != "gpt-4o-mini" || status.Cause != "" {
		t.Fatalf("unexpected status after settings change: %+v", status)
	}
	if out := analysis.Analyze(ctx, Request{Record: map[string]any{}}); !out.OK() {
		t.Fatalf("expected result, reason %v", out.Reason)
	}
	if transport.count() != 1 {
		t.Fatalf("expected one transport call, got %d", transport.count())
	}

	if err := svc.Delete(ctx, settings.KeyAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	status = analysis.Status()
	if status.Available {
		t.Fatal("expected unavailable client after api key removal")
	}
	if status.CauseKind != string(platformerrors.KindConfig) || !strings.Contains(status.Cause, "api_key") {
		t.Fatalf("unexpected cause %+v", status)
	}
}

func TestServiceRefreshSnapshotError(t *testing.T) {
	pipeline := NewPipeline(BuildClient(configuredSnapshot(), WithTransport(&stubTransport{})), nil)
	svc := NewService(pipeline, failingSource{err: errors.New("redis down")}, nil)

	client := svc.Refresh(context.Background())
	if client.IsAvailable() {
		t.Fatal("snapshot failure must leave the pipeline unavailable")
	}
	if !errors.Is(client.Cause(), ErrConfigurationIncomplete) {
		t.Fatalf("unexpected cause %v", client.Cause())
	}
	if pipeline.Client() != client {
		t.Fatal("Refresh must swap the rebuilt client into the pipeline")
	}
}

func TestServiceTestConnection(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSettingsFixture(t)
	transport := &stubTransport{respond: func(context.Context, CompletionRequest) (CompletionResponse, error) {
		return textResponse("Hi there"), nil
	}}
	analysis := NewService(NewPipeline(nil, nil), svc, nil, WithTransport(transport))

	if _, err := analysis.TestConnection(ctx, settings.Snapshot{}); !errors.Is(err, ErrConfigurationIncomplete) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if transport.count() != 0 {
		t.Fatal("no call expected without settings")
	}

	reply, err := analysis.TestConnection(ctx, configuredSnapshot())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if reply != "Hi there" {
		t.Fatalf("unexpected reply %q", reply)
	}
	req := transport.last()
	if req.MaxTokens != 10 || req.Messages[0].Content != "Hello" || req.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected test request %+v", req)
	}
	if analysis.Status().Available {
		t.Fatal("TestConnection must not replace the live client")
	}

	transport.respond = func(context.Context, CompletionRequest) (CompletionResponse, error) {
		return CompletionResponse{}, errors.New("401 unauthorized")
	}
	if _, err := analysis.TestConnection(ctx, configuredSnapshot()); !errors.Is(err, ErrRemoteCall) {
		t.Fatalf("expected remote call error, got %v", err)
	}
}
