package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/storage/migrations"
)

// Open 打开 SQLite 数据库并执行迁移。
// path 可以是文件路径，也可以是 "file:" 开头的 DSN（测试中使用内存库）。
func Open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, platformerrors.New(platformerrors.KindStorage, "storage.open", "database path is required")
	}

	if !isDSN(path) {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, platformerrors.Wrap(platformerrors.KindStorage, "storage.mkdir", "failed to create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "storage.open", fmt.Sprintf("failed to open database %s", path), err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 注册并执行全部迁移
func Migrate(db *gorm.DB) error {
	manager := NewMigrationManager(db)
	manager.AddMigration(&migrations.Migration001Settings{})
	manager.AddMigration(&migrations.Migration002AnalysisEvents{})
	return manager.RunMigrations()
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage.close", "failed to get sql handle", err)
	}
	if err := sqlDB.Close(); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage.close", "failed to close database", err)
	}
	return nil
}

func isDSN(path string) bool {
	return strings.HasPrefix(path, "file:") || path == ":memory:"
}
