package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the YAML file.
const EnvConfigPath = "VISION_CONFIG"

var defaultPaths = []string{".config.yaml", "config.yaml"}

// Loader reads YAML configuration, optionally preceded by a .env file, and
// applies VISION_* environment overrides on top.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that searches the default paths.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the configuration file path.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load reads the configuration. A missing file is not an error: defaults are
// used and Path is reported as "defaults".
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env 文件是可选的，缺失时使用系统环境变量
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.readFile(cfg)
	if err != nil {
		return nil, err
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) candidates() []string {
	if l.path != "" {
		return []string{l.path}
	}
	if p, ok := l.lookupEnv(EnvConfigPath); ok && p != "" {
		return []string{p}
	}
	return defaultPaths
}

func (l *Loader) readFile(cfg *Config) (string, error) {
	for _, candidate := range l.candidates() {
		raw, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read config %s: %w", candidate, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return "", fmt.Errorf("parse config %s: %w", candidate, err)
		}
		return candidate, nil
	}
	if l.path != "" {
		return "", fmt.Errorf("config file not found: %s", l.path)
	}
	return "defaults", nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("VISION_API_KEY", &cfg.Analysis.APIKey)
	str("VISION_BASE_URL", &cfg.Analysis.BaseURL)
	str("VISION_MODEL_NAME", &cfg.Analysis.ModelName)
	str("VISION_PROXY_URL", &cfg.Analysis.ProxyURL)
	str("VISION_LOG_LEVEL", &cfg.Log.Level)
	str("VISION_SETTINGS_DRIVER", &cfg.Settings.Driver)
	str("VISION_REDIS_ADDR", &cfg.Settings.Redis.Addr)
	str("VISION_IMAGE_ROOT", &cfg.Image.Root)
	str("VISION_HTTP_IP", &cfg.Server.IP)

	if v, ok := l.lookupEnv("VISION_HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VISION_HTTP_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch strings.ToLower(cfg.Settings.Driver) {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported settings driver: %s", cfg.Settings.Driver)
	}
	if cfg.Analysis.MaxConcurrentImages < 0 {
		return fmt.Errorf("max_concurrent_images must not be negative")
	}
	if cfg.Image.MaxFileSize < 0 {
		return fmt.Errorf("image.max_file_size must not be negative")
	}
	return nil
}
