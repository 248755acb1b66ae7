package storage

import (
	"context"

	"gorm.io/gorm"

	platformerrors "vision-analyzer-go/internal/platform/errors"
)

const defaultHistoryLimit = 50

// EventRepository 持久化分析审计事件
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Save 写入一条审计事件
func (r *EventRepository) Save(ctx context.Context, event *AnalysisEvent) error {
	if event == nil {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "events.save", "failed to save analysis event", err)
	}
	return nil
}

// Recent 按时间倒序返回最近的事件，limit<=0 时使用默认值
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]AnalysisEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var events []AnalysisEvent
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "events.recent", "failed to query analysis events", err)
	}
	return events, nil
}

// Counts 返回成功与失败的数量
func (r *EventRepository) Counts(ctx context.Context) (succeeded, failed int64, err error) {
	db := r.db.WithContext(ctx).Model(&AnalysisEvent{})
	if err = db.Where("succeeded = ?", true).Count(&succeeded).Error; err != nil {
		return 0, 0, platformerrors.Wrap(platformerrors.KindStorage, "events.count", "failed to count analysis events", err)
	}
	if err = r.db.WithContext(ctx).Model(&AnalysisEvent{}).Where("succeeded = ?", false).Count(&failed).Error; err != nil {
		return 0, 0, platformerrors.Wrap(platformerrors.KindStorage, "events.count", "failed to count analysis events", err)
	}
	return succeeded, failed, nil
}
