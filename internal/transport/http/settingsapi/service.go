// Package settingsapi exposes the analysis settings over HTTP.
package settingsapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vision-analyzer-go/internal/domain/analysis"
	"vision-analyzer-go/internal/domain/settings"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
	httptransport "vision-analyzer-go/internal/transport/http"
)

// SettingsService is the subset of *settings.Service used by the routes.
type SettingsService interface {
	List(ctx context.Context) ([]settings.Entry, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ConnectionTester sends a short test request with candidate settings.
type ConnectionTester interface {
	TestConnection(ctx context.Context, override settings.Snapshot) (string, error)
}

// Service 设置相关的 HTTP 路由
type Service struct {
	settings SettingsService
	tester   ConnectionTester
	logger   *logging.Logger
}

// NewService 创建设置路由服务
func NewService(svc SettingsService, tester ConnectionTester, logger *logging.Logger) (*Service, error) {
	if svc == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "settingsapi.new", "settings service is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{settings: svc, tester: tester, logger: logger}, nil
}

// Register 注册设置相关的HTTP路由
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	group := router.Group("/settings")
	group.GET("", s.handleList)
	group.POST("/test", s.handleTest)
	group.GET("/:key", s.handleGet)
	group.PUT("/:key", s.handlePut)
	group.DELETE("/:key", s.handleDelete)

	s.logger.InfoTag("HTTP", "设置服务路由注册完成")
	return nil
}

// EntryView 对外展示的设置项，密钥类的值已脱敏
type EntryView struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Set         bool   `json:"set"`
	Secret      bool   `json:"secret"`
	Boolean     bool   `json:"boolean"`
	Description string `json:"description"`
}

func view(def settings.Definition, value string, set bool) EntryView {
	if def.Secret && set {
		value = settings.Mask(value)
	}
	return EntryView{
		Key:         def.Key,
		Value:       value,
		Set:         set,
		Secret:      def.Secret,
		Boolean:     def.Boolean,
		Description: def.Description,
	}
}

// @Summary 列出全部设置
// @Description 密钥类设置只返回掩码
// @Tags Settings
// @Produce json
// @Success 200 {object} httptransport.APIResponse{data=[]EntryView}
// @Router /settings [get]
func (s *Service) handleList(c *gin.Context) {
	entries, err := s.settings.List(c.Request.Context())
	if err != nil {
		httptransport.RespondErr(c, http.StatusInternalServerError, "failed to list settings", err)
		return
	}
	views := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, view(entry.Definition, entry.Value, entry.Set))
	}
	httptransport.RespondSuccess(c, http.StatusOK, views, "")
}

// @Summary 读取单个设置
// @Tags Settings
// @Produce json
// @Param key path string true "设置键，例如 analysis.model_name"
// @Success 200 {object} httptransport.APIResponse{data=EntryView}
// @Failure 404 {object} httptransport.APIResponse
// @Router /settings/{key} [get]
func (s *Service) handleGet(c *gin.Context) {
	key := c.Param("key")
	def, ok := settings.Lookup(key)
	if !ok {
		httptransport.RespondErr(c, http.StatusNotFound, "unknown setting", settingsError(key))
		return
	}

	value, err := s.settings.Get(c.Request.Context(), key)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		httptransport.RespondSuccess(c, http.StatusOK, view(def, "", false), "not set")
	case err != nil:
		httptransport.RespondErr(c, statusFor(err), "failed to read setting", err)
	default:
		httptransport.RespondSuccess(c, http.StatusOK, view(def, value, true), "")
	}
}

type putRequest struct {
	Value *string `json:"value" binding:"required"`
}

// @Summary 写入设置
// @Tags Settings
// @Accept json
// @Produce json
// @Param key path string true "设置键"
// @Param body body putRequest true "新值"
// @Success 200 {object} httptransport.APIResponse{data=EntryView}
// @Failure 400 {object} httptransport.APIResponse
// @Failure 404 {object} httptransport.APIResponse
// @Router /settings/{key} [put]
func (s *Service) handlePut(c *gin.Context) {
	key := c.Param("key")
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondErr(c, http.StatusBadRequest, "request body must be {\"value\": string}", err)
		return
	}
	if err := s.settings.Set(c.Request.Context(), key, *req.Value); err != nil {
		httptransport.RespondErr(c, statusFor(err), "failed to update setting", err)
		return
	}

	def, _ := settings.Lookup(key)
	value, err := s.settings.Get(c.Request.Context(), key)
	if err != nil {
		httptransport.RespondErr(c, statusFor(err), "failed to read setting", err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, view(def, value, true), "updated")
}

// @Summary 删除设置
// @Tags Settings
// @Produce json
// @Param key path string true "设置键"
// @Success 200 {object} httptransport.APIResponse
// @Failure 404 {object} httptransport.APIResponse
// @Router /settings/{key} [delete]
func (s *Service) handleDelete(c *gin.Context) {
	key := c.Param("key")
	if err := s.settings.Delete(c.Request.Context(), key); err != nil {
		httptransport.RespondErr(c, statusFor(err), "failed to delete setting", err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"key": key}, "deleted")
}

// testRequest 未填写的字段使用已保存的设置
type testRequest struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	ModelName string `json:"model_name"`
	ProxyURL  string `json:"proxy_url"`
}

// @Summary 测试模型连接
// @Description 请求体中的字段覆盖已保存的设置；空请求体直接使用已保存的设置
// @Tags Settings
// @Accept json
// @Produce json
// @Param body body testRequest false "临时覆盖的连接参数"
// @Success 200 {object} httptransport.APIResponse
// @Failure 400 {object} httptransport.APIResponse
// @Failure 502 {object} httptransport.APIResponse
// @Failure 503 {object} httptransport.APIResponse
// @Router /settings/test [post]
func (s *Service) handleTest(c *gin.Context) {
	if s.tester == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "connection test unavailable", gin.H{})
		return
	}

	var req testRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httptransport.RespondErr(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	reply, err := s.tester.TestConnection(c.Request.Context(), settings.Snapshot{
		APIKey:    req.APIKey,
		BaseURL:   req.BaseURL,
		ModelName: req.ModelName,
		ProxyURL:  req.ProxyURL,
	})
	if err != nil {
		s.logger.WarnTag("设置", "连接测试失败: %v", err)
		httptransport.RespondErr(c, statusFor(err), "connection test failed", err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"reply": reply}, "connection ok")
}

func settingsError(key string) error {
	return platformerrors.Annotate(platformerrors.KindSettings, "settingsapi", "unknown setting key "+key, settings.ErrUnknownKey)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrUnknownKey):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrConfigurationIncomplete), errors.Is(err, analysis.ErrTransportConstruction):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrRemoteCall), errors.Is(err, analysis.ErrNonTextReply):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
