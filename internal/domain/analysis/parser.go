package analysis

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Result is a parsed analysis result.
type Result map[string]any

// ExcerptLength is the number of characters of an unparsable reply kept for logs.
const ExcerptLength = 100

type parseStrategy struct {
	name    string
	extract func(text string) (string, bool)
}

// 按顺序尝试，第一个能解析为 JSON 对象的结果胜出
var parseStrategies = []parseStrategy{
	{name: "direct", extract: func(text string) (string, bool) { return text, true }},
	{name: "fence", extract: stripFence},
	{name: "braces", extract: func(text string) (string, bool) {
		cleaned, _ := stripFence(text)
		return braceSpan(cleaned)
	}},
	{name: "think", extract: func(text string) (string, bool) {
		cleaned, ok := stripThink(text)
		if !ok {
			return "", false
		}
		return braceSpan(cleaned)
	}},
}

// 数字保留为 json.Number，超过 2^53 的整数不丢精度
var resultAPI = sonic.Config{
	UseNumber:      true,
	ValidateString: true,
	CopyString:     true,
}.Froze()

// ParseResponse extracts a JSON object from a model reply. It is total: any
// input yields either a result or false.
func ParseResponse(text string) (Result, bool) {
	result, _, ok := parseWithStrategy(text)
	return result, ok
}

func parseWithStrategy(text string) (Result, string, bool) {
	for _, s := range parseStrategies {
		candidate, ok := s.extract(text)
		if !ok {
			continue
		}
		if result, ok := decodeObject(candidate); ok {
			return result, s.name, true
		}
	}
	return nil, "", false
}

func decodeObject(candidate string) (Result, bool) {
	var value any
	if err := resultAPI.UnmarshalFromString(candidate, &value); err != nil {
		return nil, false
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	return Result(obj), true
}

// stripFence removes a leading ```json or ``` marker and a trailing ``` marker.
func stripFence(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned), true
}

// braceSpan returns the text from the first '{' to the last '}'.
func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThink 去掉推理模型输出的 <think>...</think> 段落
func stripThink(text string) (string, bool) {
	if !strings.Contains(text, "<think>") {
		return "", false
	}
	return thinkBlock.ReplaceAllString(text, ""), true
}

// Excerpt returns the first n characters of text.
func Excerpt(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
