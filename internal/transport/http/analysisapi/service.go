// Package analysisapi exposes the analysis pipeline over HTTP.
package analysisapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"vision-analyzer-go/internal/domain/analysis"
	"vision-analyzer-go/internal/domain/image"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
	"vision-analyzer-go/internal/platform/storage"
	httptransport "vision-analyzer-go/internal/transport/http"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxUploadFiles      = 16
)

// Analyzer is the subset of *analysis.Service used by the routes.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) analysis.Outcome
	Status() analysis.Status
}

// HistoryReader lists recent audit events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]storage.AnalysisEvent, error)
}

// Options 构造 Service 的依赖
type Options struct {
	Analyzer Analyzer
	History  HistoryReader
	Logger   *logging.Logger
	// MaxFileSize 上传单个文件的大小上限，超过的文件在读取时被截断并由图片加载器拒绝
	MaxFileSize int64
}

// Service 分析相关的 HTTP 路由
type Service struct {
	analyzer    Analyzer
	history     HistoryReader
	logger      *logging.Logger
	maxFileSize int64
}

// NewService 创建分析路由服务
func NewService(opts Options) (*Service, error) {
	if opts.Analyzer == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "analysisapi.new", "analyzer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		analyzer:    opts.Analyzer,
		history:     opts.History,
		logger:      logger,
		maxFileSize: opts.MaxFileSize,
	}, nil
}

// Register 注册分析相关的HTTP路由
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	group := router.Group("/analysis")
	group.GET("/status", s.handleStatus)
	group.GET("/history", s.handleHistory)
	group.POST("", s.handleAnalyze)
	group.POST("/upload", s.handleUpload)

	s.logger.InfoTag("HTTP", "分析服务路由注册完成")
	return nil
}

// AnalyzeRequest JSON 请求体，images 为服务端可读的文件路径
type AnalyzeRequest struct {
	Record      any      `json:"record"`
	Images      []string `json:"images"`
	Instruction string   `json:"instruction"`
}

// AnalysisView 分析结果。结果缺失时 Skipped 为 true 且 Reason 给出原因
type AnalysisView struct {
	RequestID     string          `json:"request_id"`
	Model         string          `json:"model,omitempty"`
	Skipped       bool            `json:"skipped"`
	Result        analysis.Result `json:"result,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	ReasonKind    string          `json:"reason_kind,omitempty"`
	Strategy      string          `json:"strategy,omitempty"`
	Images        int             `json:"images"`
	SkippedImages int             `json:"skipped_images"`
	DurationMS    int64           `json:"duration_ms"`
}

// handleStatus 返回分析客户端当前是否可用
// @Summary 分析功能状态
// @Tags Analysis
// @Produce json
// @Success 200 {object} httptransport.APIResponse
// @Router /analysis/status [get]
func (s *Service) handleStatus(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.analyzer.Status(), "")
}

// @Summary 最近的分析记录
// @Tags Analysis
// @Produce json
// @Param limit query int false "返回条数，默认 50，最大 500"
// @Success 200 {object} httptransport.APIResponse
// @Failure 400 {object} httptransport.APIResponse
// @Failure 503 {object} httptransport.APIResponse
// @Router /analysis/history [get]
func (s *Service) handleHistory(c *gin.Context) {
	if s.history == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "analysis history unavailable", gin.H{})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a positive integer", gin.H{})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		httptransport.RespondErr(c, http.StatusInternalServerError, "failed to load analysis history", err)
		return
	}
	if events == nil {
		events = []storage.AnalysisEvent{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, events, "")
}

// handleAnalyze 分析 JSON 记录，images 为图片根目录下的路径
//
// @Summary 分析一条记录
// @Description 图片路径必须位于配置的图片根目录之下；无法读取的图片会被跳过。分析没有结果时仍返回 200，data.skipped 为 true
// @Tags Analysis
// @Accept json
// @Produce json
// @Param body body AnalyzeRequest true "记录、图片路径与指令"
// @Success 200 {object} httptransport.APIResponse{data=AnalysisView}
// @Failure 400 {object} httptransport.APIResponse
// @Router /analysis [post]
func (s *Service) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondErr(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Record == nil {
		httptransport.RespondError(c, http.StatusBadRequest, "record is required", gin.H{})
		return
	}

	sources := make([]image.Source, 0, len(req.Images))
	for _, path := range req.Images {
		if path = strings.TrimSpace(path); path != "" {
			sources = append(sources, image.Source{Path: path})
		}
	}

	s.respondOutcome(c, s.analyzer.Analyze(c.Request.Context(), analysis.Request{
		Record:      req.Record,
		Images:      sources,
		Instruction: req.Instruction,
	}))
}

// handleUpload 处理 multipart 请求：record 为 JSON 字符串，instruction 为文本，files 为图片
//
// @Summary 上传图片并分析
// @Tags Analysis
// @Accept multipart/form-data
// @Produce json
// @Param record formData string true "JSON 记录"
// @Param instruction formData string false "分析指令"
// @Param files formData file false "图片，最多 16 个"
// @Success 200 {object} httptransport.APIResponse{data=AnalysisView}
// @Failure 400 {object} httptransport.APIResponse
// @Router /analysis/upload [post]
func (s *Service) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		httptransport.RespondErr(c, http.StatusBadRequest, "failed to parse multipart form", err)
		return
	}

	rawRecord := firstValue(form.Value, "record")
	if strings.TrimSpace(rawRecord) == "" {
		httptransport.RespondError(c, http.StatusBadRequest, "record field is required", gin.H{})
		return
	}
	var record any
	if err := sonic.ConfigStd.UnmarshalFromString(rawRecord, &record); err != nil {
		httptransport.RespondErr(c, http.StatusBadRequest, "record must be valid JSON", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["files[]"]
	}
	if len(files) > maxUploadFiles {
		httptransport.RespondError(c, http.StatusBadRequest,
			fmt.Sprintf("at most %d files per request", maxUploadFiles), gin.H{})
		return
	}

	sources := make([]image.Source, 0, len(files))
	for _, header := range files {
		data, err := s.readUpload(header)
		if err != nil {
			// 读取失败的文件与读取失败的路径一样被跳过
			s.logger.WarnTag("HTTP", "读取上传文件 %s 失败: %v", header.Filename, err)
			continue
		}
		sources = append(sources, image.Source{Data: data, Name: header.Filename})
	}

	s.respondOutcome(c, s.analyzer.Analyze(c.Request.Context(), analysis.Request{
		Record:      record,
		Images:      sources,
		Instruction: firstValue(form.Value, "instruction"),
	}))
}

// readUpload 最多读取 maxFileSize+1 字节，超限由图片加载器判定
func (s *Service) readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if s.maxFileSize > 0 {
		reader = io.LimitReader(file, s.maxFileSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Service) respondOutcome(c *gin.Context, out analysis.Outcome) {
	view := AnalysisView{
		RequestID:     out.RequestID,
		Model:         out.Model,
		Strategy:      out.Strategy,
		Images:        out.Stats.Images,
		SkippedImages: out.Stats.Skipped,
		DurationMS:    out.Duration.Milliseconds(),
	}

	result, ok := out.Result()
	if !ok {
		view.Skipped = true
		if out.Reason != nil {
			view.Reason = out.Reason.Error()
			view.ReasonKind = string(platformerrors.KindOf(out.Reason))
		}
		httptransport.RespondSuccess(c, http.StatusOK, view, "analysis skipped")
		return
	}

	view.Result = result
	httptransport.RespondSuccess(c, http.StatusOK, view, "analysis completed")
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
