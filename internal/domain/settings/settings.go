// Package settings owns the runtime-editable analysis settings and the
// snapshot handed to the analysis client factory.
package settings

import (
	"sort"
	"strings"
)

// Known setting keys.
const (
	KeyAPIKey              = "analysis.api_key"
	KeyBaseURL             = "analysis.base_url"
	KeyModelName           = "analysis.model_name"
	KeyProxyURL            = "analysis.proxy_url"
	KeyJSONResponseFormat  = "analysis.json_response_format"
	KeyThinkingSuppression = "analysis.thinking_suppression"
)

// Definition describes a known key.
type Definition struct {
	Key         string `json:"key"`
	Secret      bool   `json:"secret"`
	Boolean     bool   `json:"boolean"`
	Description string `json:"description"`
}

var definitions = map[string]Definition{
	KeyAPIKey:              {Key: KeyAPIKey, Secret: true, Description: "API key for the chat completions endpoint"},
	KeyBaseURL:             {Key: KeyBaseURL, Description: "Base URL of the OpenAI-compatible endpoint"},
	KeyModelName:           {Key: KeyModelName, Description: "Model identifier sent with every request"},
	KeyProxyURL:            {Key: KeyProxyURL, Description: "Optional HTTP(S) proxy for outbound calls"},
	KeyJSONResponseFormat:  {Key: KeyJSONResponseFormat, Boolean: true, Description: "Request response_format json_object"},
	KeyThinkingSuppression: {Key: KeyThinkingSuppression, Boolean: true, Description: "Ask reasoning models to skip the thinking phase"},
}

// Lookup returns the definition of a known key.
func Lookup(key string) (Definition, bool) {
	def, ok := definitions[key]
	return def, ok
}

// Definitions returns all known keys sorted by name.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Snapshot 某一时刻的分析设置，值保持存储中的原样（未去引号）
type Snapshot struct {
	APIKey                    string
	BaseURL                   string
	ModelName                 string
	ProxyURL                  string
	EnableJSONResponseFormat  bool
	EnableThinkingSuppression bool
}

// IsConfigured reports whether the three required values are present.
// Presence only: the values are not validated here.
func (s Snapshot) IsConfigured() bool {
	return s.APIKey != "" && s.BaseURL != "" && s.ModelName != ""
}

// FromValues maps raw key/value pairs onto a Snapshot.
func FromValues(values map[string]string) Snapshot {
	return Snapshot{
		APIKey:                    values[KeyAPIKey],
		BaseURL:                   values[KeyBaseURL],
		ModelName:                 values[KeyModelName],
		ProxyURL:                  values[KeyProxyURL],
		EnableJSONResponseFormat:  ParseBool(values[KeyJSONResponseFormat]),
		EnableThinkingSuppression: ParseBool(values[KeyThinkingSuppression]),
	}
}

// StripQuotes removes at most one leading and one trailing double quote.
func StripQuotes(value string) string {
	value = strings.TrimPrefix(value, `"`)
	return strings.TrimSuffix(value, `"`)
}

// ParseBool 宽松解析布尔值：true/1/yes/on（忽略大小写与首尾空白）
func ParseBool(value string) bool {
	switch strings.ToLower(StripQuotes(strings.TrimSpace(value))) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// Mask hides most of a secret value for display.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:3] + "****" + value[len(value)-4:]
}
