package analysis

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// CompletionRequest is a single-turn chat completion request. Values are
// copied by augmentations, never mutated in place.
type CompletionRequest struct {
	Model          string
	Messages       []openai.ChatCompletionMessage
	Temperature    float32
	MaxTokens      int
	ResponseFormat *openai.ChatCompletionResponseFormat
	// ExtraBody 追加到请求 JSON 顶层的字段，供兼容端点的私有参数使用
	ExtraBody map[string]any
}

// CompletionResponse carries the first choice of a completion.
type CompletionResponse struct {
	Message      openai.ChatCompletionMessage
	FinishReason string
	Model        string
	Usage        openai.Usage
	// Choices is the number of choices the endpoint returned.
	Choices int
}

// Transport performs one completion call.
type Transport interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

func (f TransportFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f(ctx, req)
}
