package analysis

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"vision-analyzer-go/internal/domain/image"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
)

// LeadIn opens every text block, ahead of the serialized record.
const LeadIn = "请基于你的专业知识和我的要求，分析以下完整的JSON数据："

const defaultImageConcurrency = 4

// recordAPI 键排序、不转义 HTML，中文原样输出
var recordAPI = sonic.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// ImageLoader reads and encodes one image.
type ImageLoader interface {
	Load(ctx context.Context, src image.Source) (image.Encoded, error)
}

// BuildStats reports what happened to the images of one message.
type BuildStats struct {
	Images  int
	Skipped int
}

// MessageBuilder assembles the multimodal user message.
type MessageBuilder struct {
	Loader      ImageLoader
	Concurrency int
	Logger      *logging.Logger
}

// BuildMessage is MessageBuilder.Build with default concurrency.
func BuildMessage(ctx context.Context, loader ImageLoader, record any, images []image.Source, instruction string) (openai.ChatCompletionMessage, BuildStats, error) {
	return MessageBuilder{Loader: loader}.Build(ctx, record, images, instruction)
}

// Build returns a user message whose parts are the readable images, in input
// order, followed by exactly one text part. Unreadable images are logged and
// skipped. An error is returned only when the record cannot be serialized or
// ctx is done.
func (b MessageBuilder) Build(ctx context.Context, record any, images []image.Source, instruction string) (openai.ChatCompletionMessage, BuildStats, error) {
	logger := b.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	text, err := RenderText(record, instruction)
	if err != nil {
		return openai.ChatCompletionMessage{}, BuildStats{}, err
	}

	encoded := make([]*image.Encoded, len(images))
	if len(images) > 0 && b.Loader != nil {
		limit := b.Concurrency
		if limit <= 0 {
			limit = defaultImageConcurrency
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, src := range images {
			g.Go(func() error {
				enc, err := b.Loader.Load(gctx, src)
				if err != nil {
					logger.WarnTag(logTag, "跳过无法读取的图片 %s: %v", src.Label(), err)
					return nil
				}
				encoded[i] = &enc
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return openai.ChatCompletionMessage{}, BuildStats{}, reason(platformerrors.KindImage, "analysis.build_message",
			"context done while reading images", ErrImageRead, err)
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	stats := BuildStats{}
	for _, enc := range encoded {
		if enc == nil {
			stats.Skipped++
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: enc.DataURI()},
		})
		stats.Images++
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: text,
	})

	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}, stats, nil
}

// RenderText builds the text block: lead-in, the record as an indented json
// fence, then the instruction verbatim.
func RenderText(record any, instruction string) (string, error) {
	raw, err := recordAPI.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", reason(platformerrors.KindAnalysis, "analysis.render_text", "failed to serialize record", ErrRecordEncoding, err)
	}

	var sb strings.Builder
	sb.Grow(len(LeadIn) + len(raw) + len(instruction) + 16)
	sb.WriteString(LeadIn)
	sb.WriteString("\n\n```json\n")
	sb.Write(raw)
	sb.WriteString("\n```\n\n")
	sb.WriteString(instruction)
	sb.WriteString("\n")
	return sb.String(), nil
}
