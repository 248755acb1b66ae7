package analysis

import "github.com/sashabaranov/go-openai"

// Augmentation is an optional request modification. The set is closed.
type Augmentation int

const (
	AugmentJSONResponseFormat Augmentation = iota + 1
	AugmentThinkingSuppression
)

func (a Augmentation) String() string {
	switch a {
	case AugmentJSONResponseFormat:
		return "json_response_format"
	case AugmentThinkingSuppression:
		return "thinking_suppression"
	default:
		return "unknown"
	}
}

// Apply returns req with the augmentation applied.
func (a Augmentation) Apply(req CompletionRequest) CompletionRequest {
	switch a {
	case AugmentJSONResponseFormat:
		return WithJSONResponseFormat(req)
	case AugmentThinkingSuppression:
		return WithThinkingSuppression(req)
	default:
		return req
	}
}

// WithJSONResponseFormat asks the endpoint for a json_object response.
func WithJSONResponseFormat(req CompletionRequest) CompletionRequest {
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	return req
}

// WithThinkingSuppression adds enable_thinking=false both at the top level and
// under chat_template_kwargs, which covers the common self-hosted servers.
func WithThinkingSuppression(req CompletionRequest) CompletionRequest {
	extra := make(map[string]any, len(req.ExtraBody)+2)
	for k, v := range req.ExtraBody {
		extra[k] = v
	}
	extra["enable_thinking"] = false
	extra["chat_template_kwargs"] = map[string]any{"enable_thinking": false}
	req.ExtraBody = extra
	return req
}

// Augmentations returns the augmentations enabled by cfg, in application order.
func Augmentations(cfg ClientConfig) []Augmentation {
	var out []Augmentation
	if cfg.EnableJSONResponseFormat {
		out = append(out, AugmentJSONResponseFormat)
	}
	if cfg.EnableThinkingSuppression {
		out = append(out, AugmentThinkingSuppression)
	}
	return out
}

func applyAugmentations(req CompletionRequest, augs []Augmentation) CompletionRequest {
	for _, a := range augs {
		req = a.Apply(req)
	}
	return req
}
