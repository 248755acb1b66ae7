package eventbus

import "time"

// 事件类型定义
const (
	// EventSettingsChanged 设置项被写入或删除
	EventSettingsChanged = "settings:changed"
	// EventAnalysisCompleted 一次分析结束（无论成功与否）
	EventAnalysisCompleted = "analysis:completed"
)

// SettingsChangedData 设置变更事件数据
type SettingsChangedData struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
}

// AnalysisCompletedData 分析完成事件数据，不包含记录正文与图片内容
type AnalysisCompletedData struct {
	RequestID  string        `json:"request_id"`
	Model      string        `json:"model"`
	Succeeded  bool          `json:"succeeded"`
	ReasonKind string        `json:"reason_kind,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	ImageCount int           `json:"image_count"`
	Skipped    int           `json:"skipped_images"`
	Duration   time.Duration `json:"duration"`
	ResultKeys []string      `json:"result_keys,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}
