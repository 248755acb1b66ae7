package migrations

import (
	"gorm.io/gorm"
)

// Migration002AnalysisEvents 创建分析审计表
type Migration002AnalysisEvents struct{}

func (m *Migration002AnalysisEvents) Version() string {
	return "002_analysis_events"
}

func (m *Migration002AnalysisEvents) Description() string {
	return "Create analysis_events audit table"
}

func (m *Migration002AnalysisEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id VARCHAR(64) NOT NULL,
			model VARCHAR(255),
			succeeded BOOLEAN,
			reason_kind VARCHAR(64),
			reason TEXT,
			image_count INTEGER,
			skipped INTEGER,
			duration_ms INTEGER,
			result_keys JSON,
			created_at DATETIME
		)
	`).Error; err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_request_id ON analysis_events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_succeeded ON analysis_events(succeeded)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_created_at ON analysis_events(created_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration002AnalysisEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS analysis_events`).Error
}
