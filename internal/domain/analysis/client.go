package analysis

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vision-analyzer-go/internal/domain/settings"
	platformerrors "vision-analyzer-go/internal/platform/errors"
)

// RequestTimeout bounds every remote call made through a Client.
const RequestTimeout = 30 * time.Second

// ClientConfig is the validated, quote-stripped configuration of a Client.
type ClientConfig struct {
	APIKey                    string
	BaseURL                   string
	ModelName                 string
	ProxyURL                  string
	EnableJSONResponseFormat  bool
	EnableThinkingSuppression bool
}

// Client is an immutable remote-call handle. An unavailable Client keeps the
// reason it could not be built.
type Client struct {
	config    ClientConfig
	transport Transport
	cause     error
}

// ClientOption customizes BuildClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	transport     Transport
	baseTransport http.RoundTripper
}

// WithTransport replaces the remote transport. The configuration is still
// validated, so an incomplete snapshot yields an unavailable Client.
func WithTransport(t Transport) ClientOption {
	return func(o *clientOptions) { o.transport = t }
}

// WithBaseRoundTripper sets the round tripper used when no proxy is configured.
func WithBaseRoundTripper(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.baseTransport = rt }
}

// BuildClient builds a Client from a settings snapshot. It never panics and
// never returns nil; failures produce an unavailable Client.
func BuildClient(snapshot settings.Snapshot, opts ...ClientOption) *Client {
	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}

	if !snapshot.IsConfigured() {
		return unavailable(ClientConfig{}, reason(platformerrors.KindConfig, "analysis.build_client",
			"analysis settings incomplete", ErrConfigurationIncomplete, missingFields(snapshot)))
	}

	cfg := ClientConfig{
		APIKey:                    settings.StripQuotes(snapshot.APIKey),
		BaseURL:                   settings.StripQuotes(snapshot.BaseURL),
		ModelName:                 settings.StripQuotes(snapshot.ModelName),
		ProxyURL:                  settings.StripQuotes(snapshot.ProxyURL),
		EnableJSONResponseFormat:  snapshot.EnableJSONResponseFormat,
		EnableThinkingSuppression: snapshot.EnableThinkingSuppression,
	}
	// 值为 `""` 时去引号后为空
	stripped := settings.Snapshot{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, ModelName: cfg.ModelName}
	if !stripped.IsConfigured() {
		return unavailable(cfg, reason(platformerrors.KindConfig, "analysis.build_client",
			"analysis settings incomplete", ErrConfigurationIncomplete, missingFields(stripped)))
	}

	if err := validateHTTPURL(cfg.BaseURL, "http", "https"); err != nil {
		return unavailable(cfg, reason(platformerrors.KindTransport, "analysis.build_client",
			"invalid base url", ErrTransportConstruction, err))
	}

	httpClient, err := newHTTPClient(cfg.ProxyURL, options.baseTransport)
	if err != nil {
		return unavailable(cfg, reason(platformerrors.KindTransport, "analysis.build_client",
			"invalid proxy url", ErrTransportConstruction, err))
	}

	transport := options.transport
	if transport == nil {
		transport = newOpenAITransport(cfg, httpClient)
	}
	return &Client{config: cfg, transport: transport}
}

func unavailable(cfg ClientConfig, cause error) *Client {
	return &Client{config: cfg, cause: cause}
}

// IsAvailable reports whether remote calls can be made.
func (c *Client) IsAvailable() bool {
	return c != nil && c.cause == nil && c.transport != nil
}

// Cause explains why the Client is unavailable; nil when available.
func (c *Client) Cause() error {
	if c == nil {
		return reason(platformerrors.KindConfig, "analysis.client", "analysis client not built", ErrConfigurationIncomplete, nil)
	}
	return c.cause
}

// Config returns the stripped configuration. APIKey is included; do not log it.
func (c *Client) Config() ClientConfig {
	if c == nil {
		return ClientConfig{}
	}
	return c.config
}

// newHTTPClient 构建带固定超时的 HTTP 客户端，配置代理时使用独立的 Transport
func newHTTPClient(proxyURL string, base http.RoundTripper) (*http.Client, error) {
	var rt http.RoundTripper
	if proxyURL != "" {
		if err := validateHTTPURL(proxyURL, "http", "https", "socks5"); err != nil {
			return nil, err
		}
		u, _ := url.Parse(proxyURL)
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(u)
		// Intercepting dev proxies usually present self-signed certificates, so
		// verification is disabled for the proxied transport only. Calls made
		// without a proxy keep full TLS verification.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		rt = transport
	} else if base != nil {
		rt = base
	} else {
		rt = http.DefaultTransport
	}

	return &http.Client{
		Timeout:   RequestTimeout,
		Transport: &extraBodyTransport{base: rt},
	}, nil
}

func validateHTTPURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return nil
		}
	}
	return fmt.Errorf("url %q has unsupported scheme %q", raw, u.Scheme)
}

func missingFields(s settings.Snapshot) error {
	var missing []string
	if s.APIKey == "" {
		missing = append(missing, settings.KeyAPIKey)
	}
	if s.BaseURL == "" {
		missing = append(missing, settings.KeyBaseURL)
	}
	if s.ModelName == "" {
		missing = append(missing, settings.KeyModelName)
	}
	return fmt.Errorf("missing %s", strings.Join(missing, ", "))
}
