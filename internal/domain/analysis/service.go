package analysis

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"

	"vision-analyzer-go/internal/domain/eventbus"
	"vision-analyzer-go/internal/domain/settings"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
)

// SettingsSource provides the current settings snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Status describes the current Client for health and status endpoints.
type Status struct {
	Available           bool   `json:"available"`
	Model               string `json:"model,omitempty"`
	BaseURL             string `json:"base_url,omitempty"`
	ProxyEnabled        bool   `json:"proxy_enabled"`
	JSONResponseFormat  bool   `json:"json_response_format"`
	ThinkingSuppression bool   `json:"thinking_suppression"`
	Cause               string `json:"cause,omitempty"`
	CauseKind           string `json:"cause_kind,omitempty"`
}

// Service keeps the Pipeline's Client in step with the settings store.
type Service struct {
	pipeline *Pipeline
	source   SettingsSource
	logger   *logging.Logger
	opts     []ClientOption

	// 串行化重建，避免旧快照覆盖新快照
	rebuildMu sync.Mutex
}

func NewService(pipeline *Pipeline, source SettingsSource, logger *logging.Logger, opts ...ClientOption) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{pipeline: pipeline, source: source, logger: logger, opts: opts}
}

// Refresh rebuilds the Client from the current snapshot and swaps it in.
func (s *Service) Refresh(ctx context.Context) *Client {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	snapshot, err := s.source.Snapshot(ctx)
	var client *Client
	if err != nil {
		client = unavailable(ClientConfig{}, reason(platformerrors.KindStorage, "analysis.refresh",
			"failed to read settings", ErrConfigurationIncomplete, err))
	} else {
		client = BuildClient(snapshot, s.opts...)
	}
	s.pipeline.SwapClient(client)

	if client.IsAvailable() {
		cfg := client.Config()
		s.logger.InfoTag(logTag, "分析客户端已就绪 model=%s base_url=%s proxy=%t",
			cfg.ModelName, cfg.BaseURL, cfg.ProxyURL != "")
	} else {
		s.logger.WarnTag(logTag, "分析功能不可用: %v", client.Cause())
	}
	return client
}

// Attach rebuilds the Client whenever a setting changes.
func (s *Service) Attach(bus *eventbus.Bus) error {
	return bus.Subscribe(eventbus.EventSettingsChanged, func(data eventbus.SettingsChangedData) {
		s.logger.DebugTag(logTag, "设置变更 key=%s deleted=%t，重建客户端", data.Key, data.Deleted)
		s.Refresh(context.Background())
	})
}

// Analyze delegates to the Pipeline.
func (s *Service) Analyze(ctx context.Context, req Request) Outcome {
	return s.pipeline.Analyze(ctx, req)
}

// Status reports the state of the current Client.
func (s *Service) Status() Status {
	client := s.pipeline.Client()
	cfg := client.Config()
	status := Status{
		Available:           client.IsAvailable(),
		Model:               cfg.ModelName,
		BaseURL:             cfg.BaseURL,
		ProxyEnabled:        cfg.ProxyURL != "",
		JSONResponseFormat:  cfg.EnableJSONResponseFormat,
		ThinkingSuppression: cfg.EnableThinkingSuppression,
	}
	if cause := client.Cause(); cause != nil {
		status.Cause = cause.Error()
		status.CauseKind = string(platformerrors.KindOf(cause))
	}
	return status
}

// TestConnection sends a short "Hello" prompt using the stored settings with
// non-empty fields of override applied on top. The live Client is untouched.
func (s *Service) TestConnection(ctx context.Context, override settings.Snapshot) (string, error) {
	snapshot, err := s.source.Snapshot(ctx)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindStorage, "analysis.test_connection", "failed to read settings", err)
	}
	if override.APIKey != "" {
		snapshot.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		snapshot.BaseURL = override.BaseURL
	}
	if override.ModelName != "" {
		snapshot.ModelName = override.ModelName
	}
	if override.ProxyURL != "" {
		snapshot.ProxyURL = override.ProxyURL
	}

	client := BuildClient(snapshot, s.opts...)
	if !client.IsAvailable() {
		return "", client.Cause()
	}

	resp, err := client.transport.Complete(ctx, CompletionRequest{
		Model: client.Config().ModelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hello"},
		},
		MaxTokens: 10,
	})
	if err != nil {
		return "", reason(platformerrors.KindTransport, "analysis.test_connection", "chat completion failed", ErrRemoteCall, err)
	}
	text, ok := replyText(resp)
	if !ok {
		return "", reason(platformerrors.KindParse, "analysis.test_connection", "reply without text", ErrNonTextReply, nil)
	}
	return text, nil
}
