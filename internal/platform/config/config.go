package config

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Analysis      AnalysisConfig      `yaml:"analysis"`
	Settings      SettingsConfig      `yaml:"settings"`
	Image         SecurityConfig      `yaml:"image"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// AnalysisConfig seeds the settings store the first time the service starts.
// Runtime changes go through the settings API, not this file.
type AnalysisConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	ModelName           string `yaml:"model_name"`
	ProxyURL            string `yaml:"proxy_url"`
	JSONResponseFormat  bool   `yaml:"json_response_format"`
	ThinkingSuppression bool   `yaml:"thinking_suppression"`
	// MaxConcurrentImages bounds parallel image reads within one analysis.
	MaxConcurrentImages int `yaml:"max_concurrent_images"`
}

// SettingsConfig 设置存储配置
type SettingsConfig struct {
	Driver string              `yaml:"driver"`
	SQLite SettingsSQLiteStore `yaml:"sqlite,omitempty"`
	Redis  SettingsRedisStore  `yaml:"redis,omitempty"`
}

type SettingsSQLiteStore struct {
	Path string `yaml:"path,omitempty"`
}

type SettingsRedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// SecurityConfig 图片读取限制。MaxFileSize 始终生效；其余检查仅在 Validate 打开时执行。
// 路径来源只能位于 Root 之下，且无论 Validate 是否打开都必须能解码为图片；Root 为空时禁止路径来源
type SecurityConfig struct {
	Root           string   `yaml:"root"`
	Validate       bool     `yaml:"validate"`
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}
