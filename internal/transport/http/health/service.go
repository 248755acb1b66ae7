// Package health serves the liveness and status summary route.
package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"vision-analyzer-go/internal/domain/analysis"
	"vision-analyzer-go/internal/platform/logging"
	httptransport "vision-analyzer-go/internal/transport/http"
)

// StatusSource reports analysis availability.
type StatusSource interface {
	Status() analysis.Status
}

// StatsSource reports settings store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// CountSource reports audit counters.
type CountSource interface {
	Counts(ctx context.Context) (succeeded, failed int64, err error)
}

// Options 健康检查依赖，均可为空
type Options struct {
	Analysis StatusSource
	Settings StatsSource
	Events   CountSource
	Logger   *logging.Logger
	Version  string
}

type Service struct {
	opts    Options
	started time.Time
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Service{opts: opts, started: time.Now()}
}

// Register 注册健康检查路由
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	router.GET("/health", s.handleHealth)
	return nil
}

// Report /api/health 的响应数据
type Report struct {
	Status     string           `json:"status"`
	Version    string           `json:"version,omitempty"`
	Uptime     string           `json:"uptime"`
	Analysis   *analysis.Status `json:"analysis,omitempty"`
	Settings   map[string]any   `json:"settings,omitempty"`
	Events     *EventCounts     `json:"events,omitempty"`
	Memory     *MemoryUsage     `json:"memory,omitempty"`
	Goroutines int              `json:"goroutines"`
}

type EventCounts struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

type MemoryUsage struct {
	TotalMB     uint64  `json:"total_mb"`
	UsedMB      uint64  `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
	HeapMB      uint64  `json:"heap_mb"`
}

// handleHealth 服务本身可用即返回 200；分析不可用属于降级而不是故障
//
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} httptransport.APIResponse{data=Report}
// @Router /health [get]
func (s *Service) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	report := Report{
		Status:     "ok",
		Version:    s.opts.Version,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if s.opts.Analysis != nil {
		status := s.opts.Analysis.Status()
		report.Analysis = &status
		if !status.Available {
			report.Status = "degraded"
		}
	}

	if s.opts.Settings != nil {
		stats, err := s.opts.Settings.Stats(ctx)
		if err != nil {
			s.opts.Logger.WarnTag("HTTP", "读取设置存储状态失败: %v", err)
			report.Status = "degraded"
		} else {
			report.Settings = stats
		}
	}

	if s.opts.Events != nil {
		succeeded, failed, err := s.opts.Events.Counts(ctx)
		if err != nil {
			s.opts.Logger.WarnTag("HTTP", "读取审计计数失败: %v", err)
		} else {
			report.Events = &EventCounts{Succeeded: succeeded, Failed: failed}
		}
	}

	report.Memory = memoryUsage(ctx)

	httptransport.RespondSuccess(c, http.StatusOK, report, report.Status)
}

func memoryUsage(ctx context.Context) *MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage := &MemoryUsage{HeapMB: ms.HeapAlloc / 1024 / 1024}

	// 部分容器环境读取不到系统内存，仅保留进程堆信息
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		usage.TotalMB = vm.Total / 1024 / 1024
		usage.UsedMB = vm.Used / 1024 / 1024
		usage.UsedPercent = vm.UsedPercent
	}
	return usage
}
