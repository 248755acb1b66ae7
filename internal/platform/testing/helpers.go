package testing

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"vision-analyzer-go/internal/platform/config"
	"vision-analyzer-go/internal/platform/logging"
	"vision-analyzer-go/internal/platform/storage"
)

var dbSeq atomic.Int64

func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = ""
	cfg.Settings.Driver = "memory"
	return cfg
}

// SetupTestLogger 返回只写控制台丢弃输出的日志器
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewNop()
}

// SetupTestDB 打开一个独立的内存 SQLite 数据库并执行迁移
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
