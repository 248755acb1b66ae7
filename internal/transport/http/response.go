package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	platformerrors "vision-analyzer-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// ErrorData 失败响应中的 data 字段
type ErrorData struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondErr 以 err 的文本和类型返回失败响应，并把错误挂到 gin 上下文供中间件记录
func RespondErr(c *gin.Context, httpStatus int, message string, err error) {
	if err == nil {
		RespondError(c, httpStatus, message, gin.H{})
		return
	}
	_ = c.Error(err)
	RespondError(c, httpStatus, message, ErrorData{
		Error: err.Error(),
		Kind:  string(platformerrors.KindOf(err)),
	})
}

// NotFound 用于 /api 下未注册的路由
func NotFound(c *gin.Context) {
	RespondError(c, http.StatusNotFound, "api not found", gin.H{})
}
