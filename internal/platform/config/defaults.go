package config

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "127.0.0.1",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Analysis: AnalysisConfig{
			ModelName:           "gpt-4o-mini",
			MaxConcurrentImages: 4,
		},
		Settings: SettingsConfig{
			Driver: "sqlite",
			SQLite: SettingsSQLiteStore{
				Path: "data/vision.db",
			},
			Redis: SettingsRedisStore{
				Addr:   "127.0.0.1:6379",
				Prefix: "vision:settings:",
			},
		},
		Image: SecurityConfig{
			Root:           "data/images",
			MaxFileSize:    10 * 1024 * 1024, // 10MB
			MaxPixels:      16777216,         // 16M pixels
			MaxWidth:       8192,
			MaxHeight:      8192,
			AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "bmp", "tiff"},
			EnableDeepScan: false,
		},
	}
}
