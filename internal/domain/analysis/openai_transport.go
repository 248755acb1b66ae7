package analysis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"
)

// openAITransport 基于 go-openai 的默认实现
type openAITransport struct {
	client *openai.Client
}

func newOpenAITransport(cfg ClientConfig, httpClient *http.Client) *openAITransport {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = httpClient
	return &openAITransport{client: openai.NewClientWithConfig(clientConfig)}
}

func (t *openAITransport) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	request := openai.ChatCompletionRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	}

	resp, err := t.client.CreateChatCompletion(withExtraBody(ctx, req.ExtraBody), request)
	if err != nil {
		return CompletionResponse{}, err
	}

	out := CompletionResponse{
		Model:   resp.Model,
		Usage:   resp.Usage,
		Choices: len(resp.Choices),
	}
	if len(resp.Choices) > 0 {
		out.Message = resp.Choices[0].Message
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

type extraBodyKey struct{}

func withExtraBody(ctx context.Context, extra map[string]any) context.Context {
	if len(extra) == 0 {
		return ctx
	}
	return context.WithValue(ctx, extraBodyKey{}, extra)
}

func extraBodyFrom(ctx context.Context) map[string]any {
	extra, _ := ctx.Value(extraBodyKey{}).(map[string]any)
	return extra
}

// extraBodyTransport 把 context 中的 ExtraBody 字段合并进 JSON 请求体。
// go-openai 不提供任意顶层字段，所以在 HTTP 层用 sjson 改写。
type extraBodyTransport struct {
	base http.RoundTripper
}

func (t *extraBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	extra := extraBodyFrom(req.Context())
	if len(extra) == 0 || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, extra[k])
		if err != nil {
			return nil, fmt.Errorf("merge extra body field %s: %w", k, err)
		}
	}

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return t.base.RoundTrip(clone)
}
