package storage

import (
	"time"

	"gorm.io/datatypes"
)

// SettingRecord 键值设置记录
type SettingRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SettingRecord) TableName() string {
	return "settings"
}

// AnalysisEvent 分析结果审计记录，只保存摘要，不保存原始图片或记录
type AnalysisEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	RequestID  string         `gorm:"type:varchar(64);index;not null" json:"request_id"`
	Model      string         `gorm:"type:varchar(255)" json:"model"`
	Succeeded  bool           `gorm:"index" json:"succeeded"`
	ReasonKind string         `gorm:"type:varchar(64)" json:"reason_kind,omitempty"`
	Reason     string         `gorm:"type:text" json:"reason,omitempty"`
	ImageCount int            `json:"image_count"`
	Skipped    int            `json:"skipped_images"`
	DurationMS int64          `json:"duration_ms"`
	ResultKeys datatypes.JSON `json:"result_keys,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (AnalysisEvent) TableName() string {
	return "analysis_events"
}
