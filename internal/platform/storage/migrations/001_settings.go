package migrations

import (
	"gorm.io/gorm"
)

// Migration001Settings 创建设置表
type Migration001Settings struct{}

func (m *Migration001Settings) Version() string {
	return "001_settings"
}

func (m *Migration001Settings) Description() string {
	return "Create key/value settings table"
}

func (m *Migration001Settings) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key VARCHAR(255) NOT NULL,
			value TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_settings_key ON settings(key)`).Error
}

func (m *Migration001Settings) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS settings`).Error
}
