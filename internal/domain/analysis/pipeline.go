package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"vision-analyzer-go/internal/domain/eventbus"
	"vision-analyzer-go/internal/domain/image"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
	"vision-analyzer-go/internal/platform/observability"
)

const logTag = "分析"

// Fixed request parameters.
const (
	Temperature float32 = 0.1
	MaxTokens           = 4000
)

// Request is one analysis: an opaque record, ordered images and an
// instruction appended verbatim.
type Request struct {
	Record      any
	Images      []image.Source
	Instruction string
}

// Outcome is the result of Analyze. Absence is explicit: call Result and
// check ok before using the value.
type Outcome struct {
	RequestID string
	Model     string
	Stats     BuildStats
	Duration  time.Duration
	// Strategy names the parse strategy that succeeded.
	Strategy string
	// Reason is set when no result is available.
	Reason error

	result Result
	ok     bool
}

// Result returns the parsed result and whether one exists.
func (o Outcome) Result() (Result, bool) {
	return o.result, o.ok
}

// OK reports whether a result exists.
func (o Outcome) OK() bool {
	return o.ok
}

// Notifier receives completion events. *eventbus.Bus satisfies it.
type Notifier interface {
	PublishAsync(topic string, args ...interface{}) bool
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithImageConcurrency bounds parallel image reads per call.
func WithImageConcurrency(n int) PipelineOption {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithNotifier publishes an analysis:completed event after every call.
func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// Pipeline runs analyses against the current Client. It keeps no per-call
// state; the Client is replaced as a whole by SwapClient.
type Pipeline struct {
	client      atomic.Pointer[Client]
	loader      ImageLoader
	logger      *logging.Logger
	concurrency int
	notifier    Notifier
}

func NewPipeline(client *Client, loader ImageLoader, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		loader: loader,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client.Store(client)
	return p
}

// SwapClient installs c and returns the previous Client.
func (p *Pipeline) SwapClient(c *Client) *Client {
	return p.client.Swap(c)
}

// Client returns the Client in use.
func (p *Pipeline) Client() *Client {
	return p.client.Load()
}

// Analyze never returns an error and never panics: every failure becomes an
// absent Outcome with a typed Reason.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	out.RequestID = uuid.NewString()

	client := p.client.Load()
	out.Model = client.Config().ModelName

	ctx, finish := observability.StartSpan(ctx, "analysis", "analyze",
		slog.String("request_id", out.RequestID),
		slog.Int("images", len(req.Images)),
	)

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorTag(logTag, "分析过程发生 panic request=%s: %v", out.RequestID, r)
			out = Outcome{
				RequestID: out.RequestID,
				Model:     out.Model,
				Stats:     out.Stats,
				Reason: reason(platformerrors.KindAnalysis, "analysis.analyze", "analysis panicked",
					ErrPanic, fmt.Errorf("%v", r)),
			}
		}
		out.Duration = time.Since(start)
		finish(out.Reason)
		p.record(ctx, out)
	}()

	if !client.IsAvailable() {
		out.Reason = client.Cause()
		p.logger.WarnTag(logTag, "分析客户端不可用，跳过 request=%s: %v", out.RequestID, out.Reason)
		return out
	}
	cfg := client.Config()

	msg, stats, err := MessageBuilder{
		Loader:      p.loader,
		Concurrency: p.concurrency,
		Logger:      p.logger,
	}.Build(ctx, req.Record, req.Images, req.Instruction)
	out.Stats = stats
	if err != nil {
		out.Reason = err
		p.logger.WarnTag(logTag, "构建消息失败 request=%s: %v", out.RequestID, err)
		return out
	}

	text, err := p.callRemote(ctx, client, cfg, msg)
	if err != nil {
		out.Reason = err
		p.logger.ErrorTag(logTag, "远程调用失败 request=%s: %v", out.RequestID, err)
		return out
	}

	result, strategy, ok := parseWithStrategy(text)
	if !ok {
		out.Reason = reason(platformerrors.KindParse, "analysis.parse", "unparsable reply", ErrUnparsableResponse, nil)
		p.logger.WarnTag(logTag, "无法解析 AI 响应 request=%s: %s", out.RequestID, Excerpt(text, ExcerptLength))
		return out
	}

	out.result, out.ok, out.Strategy = result, true, strategy
	p.logger.InfoTag(logTag, "分析完成 request=%s images=%d skipped=%d strategy=%s",
		out.RequestID, stats.Images, stats.Skipped, strategy)
	return out
}

// callRemote sends one single-turn request and returns the reply text.
func (p *Pipeline) callRemote(ctx context.Context, client *Client, cfg ClientConfig, msg openai.ChatCompletionMessage) (string, error) {
	req := applyAugmentations(CompletionRequest{
		Model:       cfg.ModelName,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	}, Augmentations(cfg))

	resp, err := client.transport.Complete(ctx, req)
	if err != nil {
		return "", reason(platformerrors.KindTransport, "analysis.remote", "chat completion failed", ErrRemoteCall, err)
	}
	text, ok := replyText(resp)
	if !ok {
		return "", reason(platformerrors.KindParse, "analysis.remote", "reply without text",
			ErrNonTextReply, fmt.Errorf("choices=%d finish_reason=%q", resp.Choices, resp.FinishReason))
	}
	return text, nil
}

// replyText 取回复中的文本；多段内容时拼接所有文本段
func replyText(resp CompletionResponse) (string, bool) {
	if resp.Message.Content != "" {
		return resp.Message.Content, true
	}
	var sb strings.Builder
	for _, part := range resp.Message.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

func (p *Pipeline) record(ctx context.Context, out Outcome) {
	status := "ok"
	if !out.ok {
		status = string(platformerrors.KindOf(out.Reason))
	}
	observability.RecordMetric(ctx, "analysis.requests", 1, map[string]string{"status": status})
	observability.RecordMetric(ctx, "analysis.images.skipped", float64(out.Stats.Skipped), nil)

	if p.notifier == nil {
		return
	}
	data := eventbus.AnalysisCompletedData{
		RequestID:  out.RequestID,
		Model:      out.Model,
		Succeeded:  out.ok,
		ImageCount: out.Stats.Images,
		Skipped:    out.Stats.Skipped,
		Duration:   out.Duration,
		FinishedAt: time.Now(),
	}
	if out.Reason != nil {
		data.ReasonKind = string(platformerrors.KindOf(out.Reason))
		data.Reason = out.Reason.Error()
	}
	if out.ok {
		data.ResultKeys = make([]string, 0, len(out.result))
		for k := range out.result {
			data.ResultKeys = append(data.ResultKeys, k)
		}
		sort.Strings(data.ResultKeys)
	}
	p.notifier.PublishAsync(eventbus.EventAnalysisCompleted, data)
}
