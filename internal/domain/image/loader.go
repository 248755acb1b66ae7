package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vision-analyzer-go/internal/platform/config"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
	"vision-analyzer-go/internal/platform/observability"
)

const (
	logTag = "图片"

	defaultMIMEType = "image/jpeg"
)

// Loader reads image sources and produces base64 payloads.
// Safe for concurrent use.
type Loader struct {
	validator *SecurityValidator
	security  config.SecurityConfig
	logger    *logging.Logger
}

func NewLoader(security config.SecurityConfig, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loader{
		validator: NewSecurityValidator(security, logger),
		security:  security,
		logger:    logger,
	}
}

// Load reads src and returns its encoded form. Path sources must resolve
// inside the configured image root and decode as an allowed image. A read
// failure is returned as a KindImage error; the caller decides whether to
// skip the image.
func (l *Loader) Load(ctx context.Context, src Source) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, platformerrors.Annotate(platformerrors.KindImage, "image.load", "context done before read", err)
	}

	raw, err := l.read(src)
	if err != nil {
		observability.RecordMetric(ctx, "image.load.failed", 1, map[string]string{"stage": "read"})
		return Encoded{}, platformerrors.Annotate(platformerrors.KindImage, "image.read", fmt.Sprintf("read %s", src.Label()), err)
	}
	if len(raw) == 0 {
		observability.RecordMetric(ctx, "image.load.failed", 1, map[string]string{"stage": "read"})
		return Encoded{}, platformerrors.Annotate(platformerrors.KindImage, "image.read", fmt.Sprintf("read %s", src.Label()), ErrEmpty)
	}

	encoded := Encoded{Size: int64(len(raw))}

	// 路径来源总是完整校验，内存数据仅在 Validate 打开时校验
	if l.security.Validate || src.Data == nil {
		result := l.validator.ValidateBytes(raw, declaredFormat(src))
		if !result.IsValid {
			observability.RecordMetric(ctx, "image.load.failed", 1, map[string]string{"stage": "validate"})
			cause := result.Error
			if cause == nil {
				cause = ErrInvalidImage
			}
			return Encoded{}, platformerrors.Annotate(platformerrors.KindImage, "image.validate", fmt.Sprintf("validate %s", src.Label()), cause)
		}
		encoded.Format, encoded.Width, encoded.Height = result.Format, result.Width, result.Height
	} else if cfg, format, err := image.DecodeConfig(bytes.NewReader(raw)); err == nil {
		encoded.Format, encoded.Width, encoded.Height = format, cfg.Width, cfg.Height
	}

	encoded.MIMEType = DetectMIMEType(encoded.Format, raw)
	encoded.Base64 = base64.StdEncoding.EncodeToString(raw)

	observability.RecordMetric(ctx, "image.load.bytes", float64(len(raw)), nil)
	l.logger.DebugTag(logTag, "已编码 %s: mime=%s size=%d", src.Label(), encoded.MIMEType, encoded.Size)
	return encoded, nil
}

// read 读取原始字节，超过 MaxFileSize 时返回 ErrTooLarge
func (l *Loader) read(src Source) ([]byte, error) {
	maxSize := l.security.MaxFileSize

	if src.Data != nil {
		if maxSize > 0 && int64(len(src.Data)) > maxSize {
			return nil, fmt.Errorf("%w: %d bytes (max %d bytes)", ErrTooLarge, len(src.Data), maxSize)
		}
		return src.Data, nil
	}
	if src.Path == "" {
		return nil, ErrNoSource
	}

	file, err := l.openInRoot(src.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if maxSize > 0 {
		reader = &io.LimitedReader{R: file, N: maxSize + 1}
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(raw)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return raw, nil
}

// openInRoot 只允许打开 Root 之下的文件，符号链接逃逸由 os.Root 拦截
func (l *Loader) openInRoot(path string) (*os.File, error) {
	if l.security.Root == "" {
		return nil, fmt.Errorf("%w: path sources are disabled", ErrPathRejected)
	}
	rootDir, err := filepath.Abs(l.security.Root)
	if err != nil {
		return nil, err
	}

	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		if rel, err = filepath.Rel(rootDir, rel); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPathRejected, path)
		}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("%w: %s", ErrPathRejected, path)
	}

	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	return root.Open(rel)
}

// DetectMIMEType picks the MIME type from the decoded format, falling back to
// content sniffing and finally image/jpeg.
func DetectMIMEType(format string, raw []byte) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png", "gif", "webp", "bmp", "tiff":
		return "image/" + strings.ToLower(format)
	}
	if len(raw) > 0 {
		if sniffed := http.DetectContentType(raw); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	return defaultMIMEType
}

func declaredFormat(src Source) string {
	name := src.Name
	if name == "" {
		name = src.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	case "png", "gif", "webp", "bmp":
		return ext
	}
	return ""
}
