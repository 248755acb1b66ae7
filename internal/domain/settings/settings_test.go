package settings

import (
	"context"
	"errors"
	"testing"

	"vision-analyzer-go/internal/domain/eventbus"
	"vision-analyzer-go/internal/domain/settings/store"
	platformerrors "vision-analyzer-go/internal/platform/errors"
)

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `"sk-test"`, want: "sk-test"},
		{in: `sk-test`, want: "sk-test"},
		{in: `"sk-test`, want: "sk-test"},
		{in: `sk-test"`, want: "sk-test"},
		{in: `""sk-test""`, want: `"sk-test"`},
		{in: `"`, want: ""},
		{in: `""`, want: ""},
		{in: ``, want: ""},
		{in: `'sk'`, want: `'sk'`},
	}
	for _, tt := range tests {
		if got := StripQuotes(tt.in); got != tt.want {
			t.Errorf("StripQuotes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", " 1 ", "yes", "On", `"true"`} {
		if !ParseBool(v) {
			t.Errorf("expected %q to be true", v)
		}
	}
	for _, v := range []string{"", "false", "0", "no", "off", "maybe"} {
		if ParseBool(v) {
			t.Errorf("expected %q to be false", v)
		}
	}
}

func TestSnapshotIsConfigured(t *testing.T) {
	full := Snapshot{APIKey: "k", BaseURL: "u", ModelName: "m"}
	if !full.IsConfigured() {
		t.Fatal("expected configured snapshot")
	}
	for name, snap := range map[string]Snapshot{
		"no key":   {BaseURL: "u", ModelName: "m"},
		"no url":   {APIKey: "k", ModelName: "m"},
		"no model": {APIKey: "k", BaseURL: "u"},
	} {
		if snap.IsConfigured() {
			t.Errorf("%s: expected not configured", name)
		}
	}
}

func TestMask(t *testing.T) {
	if got := Mask("sk-1234567890abcd"); got != "sk-****abcd" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := Mask("short"); got != "****" {
		t.Fatalf("unexpected mask for short value: %q", got)
	}
	if got := Mask(""); got != "" {
		t.Fatalf("expected empty mask, got %q", got)
	}
}

type recordingPublisher struct {
	events []eventbus.SettingsChangedData
}

func (p *recordingPublisher) Publish(topic string, args ...interface{}) {
	if topic != eventbus.EventSettingsChanged || len(args) == 0 {
		return
	}
	p.events = append(p.events, args[0].(eventbus.SettingsChangedData))
}

func TestServiceSetGetDeletePublishes(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewService(store.NewMemory(), pub, nil)

	if err := svc.Set(ctx, KeyAPIKey, "sk-test"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := svc.Get(ctx, KeyAPIKey)
	if err != nil || got != "sk-test" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := svc.Delete(ctx, KeyAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, KeyAPIKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 change events, got %d", len(pub.events))
	}
	if pub.events[0].Key != KeyAPIKey || pub.events[0].Deleted {
		t.Fatalf("unexpected first event: %+v", pub.events[0])
	}
	if !pub.events[1].Deleted {
		t.Fatalf("expected delete event, got %+v", pub.events[1])
	}
}

func TestServiceRejectsUnknownKey(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(store.NewMemory(), pub, nil)

	err := svc.Set(context.Background(), "analysis.temperature", "1")
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if !platformerrors.IsKind(err, platformerrors.KindSettings) {
		t.Fatalf("expected settings kind, got %v", platformerrors.KindOf(err))
	}
	if len(pub.events) != 0 {
		t.Fatal("no event expected for rejected write")
	}
}

func TestServiceNormalizesBooleans(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil, nil)

	if err := svc.Set(ctx, KeyJSONResponseFormat, "yes"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := svc.Get(ctx, KeyJSONResponseFormat)
	if got != "true" {
		t.Fatalf("expected normalized true, got %q", got)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.EnableJSONResponseFormat || snap.EnableThinkingSuppression {
		t.Fatalf("unexpected flags: %+v", snap)
	}
}

func TestServiceSnapshotKeepsRawValues(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil, nil)
	_ = svc.Set(ctx, KeyAPIKey, `"sk-test"`)
	_ = svc.Set(ctx, KeyBaseURL, "https://api.example.com/v1")
	_ = svc.Set(ctx, KeyModelName, "gpt-4o-mini")

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.APIKey != `"sk-test"` {
		t.Fatalf("snapshot should not strip quotes, got %q", snap.APIKey)
	}
	if !snap.IsConfigured() {
		t.Fatal("expected configured snapshot")
	}
}

func TestServiceListIncludesUnsetKeys(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), nil, nil)
	_ = svc.Set(ctx, KeyModelName, "gpt-4o-mini")

	entries, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != len(Definitions()) {
		t.Fatalf("expected %d entries, got %d", len(Definitions()), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key > entries[i].Key {
			t.Fatalf("entries not sorted: %s > %s", entries[i-1].Key, entries[i].Key)
		}
	}
	for _, entry := range entries {
		if entry.Key == KeyModelName && (!entry.Set || entry.Value != "gpt-4o-mini") {
			t.Fatalf("unexpected model entry: %+v", entry)
		}
		if entry.Key == KeyAPIKey && entry.Set {
			t.Fatalf("api key should be unset: %+v", entry)
		}
	}
}

func TestServiceSeedOnlyFillsMissing(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc := NewService(store.NewMemory(), pub, nil)
	_ = svc.Set(ctx, KeyModelName, "existing-model")
	pub.events = nil

	written, err := svc.Seed(ctx, map[string]string{
		KeyAPIKey:    "sk-seed",
		KeyModelName: "seed-model",
		KeyProxyURL:  "",
		"unknown":    "x",
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 seeded key, got %d", written)
	}
	model, _ := svc.Get(ctx, KeyModelName)
	if model != "existing-model" {
		t.Fatalf("seed must not overwrite, got %q", model)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected a single change event, got %d", len(pub.events))
	}

	written, err = svc.Seed(ctx, map[string]string{KeyAPIKey: "sk-other"})
	if err != nil || written != 0 {
		t.Fatalf("second seed = %d, %v", written, err)
	}
}
