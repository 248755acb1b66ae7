package eventbus

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"

	"vision-analyzer-go/internal/platform/logging"
	"vision-analyzer-go/internal/platform/storage"
)

// EventSink 审计事件持久化接口
type EventSink interface {
	Save(ctx context.Context, event *storage.AnalysisEvent) error
}

// AuditRecorder 把分析完成事件写入审计表
type AuditRecorder struct {
	sink    EventSink
	logger  *logging.Logger
	timeout time.Duration
}

func NewAuditRecorder(sink EventSink, logger *logging.Logger) *AuditRecorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AuditRecorder{sink: sink, logger: logger, timeout: 5 * time.Second}
}

// Attach 订阅分析完成事件
func (r *AuditRecorder) Attach(bus *Bus) error {
	return bus.Subscribe(EventAnalysisCompleted, r.Handle)
}

// Handle 处理单个事件，写入失败只记录日志
func (r *AuditRecorder) Handle(data AnalysisCompletedData) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	record := &storage.AnalysisEvent{
		RequestID:  data.RequestID,
		Model:      data.Model,
		Succeeded:  data.Succeeded,
		ReasonKind: data.ReasonKind,
		Reason:     data.Reason,
		ImageCount: data.ImageCount,
		Skipped:    data.Skipped,
		DurationMS: data.Duration.Milliseconds(),
		CreatedAt:  data.FinishedAt,
	}
	if len(data.ResultKeys) > 0 {
		raw, err := sonic.Marshal(data.ResultKeys)
		if err == nil {
			record.ResultKeys = datatypes.JSON(raw)
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if err := r.sink.Save(ctx, record); err != nil {
		r.logger.WarnTag("事件", "保存分析审计记录失败 request=%s: %v", data.RequestID, err)
	}
}
