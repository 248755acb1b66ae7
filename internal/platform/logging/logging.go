package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	LogRetentionDays = 7 // 日志保留天数
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console writer; defaults to os.Stdout.
	Console io.Writer
}

// Logger 带模块标签的日志记录器，控制台输出彩色文本，文件输出JSON
type Logger struct {
	config      Config
	level       *slog.LevelVar
	console     slog.Handler
	logger      *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// ParseLevel 将配置中的日志级别转换为slog.Level
func ParseLevel(configLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(configLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger. When Dir is empty only the console handler is used.
func New(cfg Config) (*Logger, error) {
	level := &slog.LevelVar{}
	level.Set(ParseLevel(cfg.Level))

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		config:      cfg,
		level:       level,
		console:     newConsoleHandler(console, level),
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}

	if cfg.Dir == "" {
		l.logger = slog.New(l.console)
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := l.openLogFile()
	if err != nil {
		return nil, err
	}
	l.attachFile(file)
	l.startRotationChecker()
	return l, nil
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *Logger {
	l, _ := New(Config{Level: "error", Console: io.Discard})
	return l
}

func (l *Logger) filename() string {
	if l.config.Filename == "" {
		return "server.log"
	}
	return l.config.Filename
}

func (l *Logger) openLogFile() (*os.File, error) {
	logPath := filepath.Join(l.config.Dir, l.filename())
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

func (l *Logger) attachFile(file *os.File) {
	jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level})
	l.logFile = file
	l.logger = slog.New(&fanoutHandler{handlers: []slog.Handler{jsonHandler, l.console}})
}

// startRotationChecker 启动定时检查器
func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate()
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate() {
	today := time.Now().Format("2006-01-02")
	l.mu.RLock()
	current := l.currentDate
	l.mu.RUnlock()
	if today != current {
		l.rotateLogFile(today)
		l.cleanOldLogs()
	}
}

// rotateLogFile 将当前日志文件归档为 name-YYYY-MM-DD.ext 并重新打开
func (l *Logger) rotateLogFile(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	name := l.filename()
	currentLogPath := filepath.Join(l.config.Dir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	archived := filepath.Join(l.config.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(currentLogPath); err == nil {
		if err := os.Rename(currentLogPath, archived); err != nil {
			slog.New(l.console).Error("重命名日志文件失败", slog.String("error", err.Error()))
		}
	}

	file, err := l.openLogFile()
	if err != nil {
		slog.New(l.console).Error("创建新日志文件失败", slog.String("error", err.Error()))
		l.logger = slog.New(l.console)
		l.logFile = nil
		return
	}
	l.attachFile(file)
	l.currentDate = newDate
	slog.New(l.console).Info("日志文件已轮转", slog.String("new_date", newDate))
}

// cleanOldLogs 清理超过保留期的归档日志
func (l *Logger) cleanOldLogs() {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -LogRetentionDays)
	name := l.filename()
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, base+"-") || !strings.HasSuffix(fileName, ext) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(fileName, base+"-"), ext)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			_ = os.Remove(filepath.Join(l.config.Dir, fileName))
		}
	}
}

// Close 停止轮转并关闭日志文件
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
			l.logFile = nil
			l.logger = slog.New(l.console)
		}
	})
	return err
}

// SetLevel 动态调整日志级别
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *Logger) log(level slog.Level, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	ctx := context.Background()
	l.mu.RLock()
	logger := l.logger
	l.mu.RUnlock()
	if !logger.Enabled(ctx, level) {
		return
	}

	if len(args) > 0 && containsFormatPlaceholders(msg) {
		logger.LogAttrs(ctx, level, fmt.Sprintf(msg, args...))
		return
	}

	var attrs []slog.Attr
	if len(args) > 0 && args[0] != nil {
		if fields, ok := args[0].(map[string]interface{}); ok {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, fields[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", args[0]))
		}
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}

func containsFormatPlaceholders(s string) bool {
	return strings.Contains(s, "%")
}

// FormatLog 构造带单一分类标签的日志消息。例如：FormatLog("引导", "服务已启动") -> "[引导] 服务已启动"
// 如果 message 已经以 "[" 开头则直接返回原文。
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" {
		return message
	}
	if strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// InfoFields 输出结构化字段，字段按键名排序
func (l *Logger) InfoFields(msg string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args...) }

// DebugTag 记录带分类标签的调试日志
func (l *Logger) DebugTag(tag, msg string, args ...interface{}) {
	l.log(slog.LevelDebug, FormatLog(tag, msg), args...)
}

// InfoTag 记录带分类标签的信息日志
func (l *Logger) InfoTag(tag, msg string, args ...interface{}) {
	l.log(slog.LevelInfo, FormatLog(tag, msg), args...)
}

// WarnTag 记录带分类标签的警告日志
func (l *Logger) WarnTag(tag, msg string, args ...interface{}) {
	l.log(slog.LevelWarn, FormatLog(tag, msg), args...)
}

// ErrorTag 记录带分类标签的错误日志
func (l *Logger) ErrorTag(tag, msg string, args ...interface{}) {
	l.log(slog.LevelError, FormatLog(tag, msg), args...)
}
