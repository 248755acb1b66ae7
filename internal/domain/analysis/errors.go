package analysis

import (
	"errors"
	"fmt"

	platformerrors "vision-analyzer-go/internal/platform/errors"
)

// Failure causes carried by an absent Outcome. Use errors.Is to match them.
var (
	ErrConfigurationIncomplete = errors.New("analysis configuration incomplete")
	ErrTransportConstruction   = errors.New("analysis transport construction failed")
	ErrImageRead               = errors.New("image could not be read")
	ErrRecordEncoding          = errors.New("record could not be serialized")
	ErrRemoteCall              = errors.New("remote call failed")
	ErrUnparsableResponse      = errors.New("response is not a JSON object")
	ErrNonTextReply            = errors.New("reply has no text content")
	ErrPanic                   = errors.New("analysis panicked")
)

// reason 生成带类型的失败原因：外层为平台错误，内层同时包含哨兵错误与底层原因
func reason(kind platformerrors.Kind, op, message string, sentinel, cause error) error {
	inner := sentinel
	if cause != nil {
		inner = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return platformerrors.Annotate(kind, op, message, inner)
}
