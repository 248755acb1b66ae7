package image

import "errors"

var (
	ErrEmpty        = errors.New("empty image payload")
	ErrTooLarge     = errors.New("image exceeds maximum size")
	ErrInvalidImage = errors.New("image failed validation")
	ErrNoSource     = errors.New("image source has neither path nor data")
	ErrPathRejected = errors.New("image path outside the configured image root")
)

// Source 一张待分析的图片：文件路径或内存数据二选一，Data 优先
type Source struct {
	Path string `json:"path,omitempty"`
	Data []byte `json:"-"`
	// Name 仅用于日志，缺省时取 Path
	Name string `json:"name,omitempty"`
}

// Label returns a short human-readable identifier for logs.
func (s Source) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return s.Path
	default:
		return "inline"
	}
}

// Encoded is a base64 payload ready to be embedded as a data URI.
type Encoded struct {
	Base64   string
	MIMEType string
	Size     int64
	Format   string
	Width    int
	Height   int
}

// DataURI renders the payload as data:<mime>;base64,<payload>.
func (e Encoded) DataURI() string {
	return "data:" + e.MIMEType + ";base64," + e.Base64
}

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}
