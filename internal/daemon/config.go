// Package daemon loads configuration and wires the backend services
// together into a running process.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Config holds all daemon configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	Generation GenerationConfig `toml:"generation"`
	Tasks      TasksConfig      `toml:"tasks"`
	Stub       StubConfig       `toml:"stub"`
	Logging    LoggingConfig    `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	MaxUploadSize  string   `toml:"max_upload_size"`
	RequestTimeout string   `toml:"request_timeout"`
	Metrics        bool     `toml:"metrics"`
}

// StoreConfig selects the task store.
type StoreConfig struct {
	Driver    string `toml:"driver"` // "redis" or "sqlite"
	TTL       string `toml:"ttl"`
	SQLiteDir string `toml:"sqlite_dir"`
}

// RedisConfig locates the Redis server. URL wins over Host/Port.
type RedisConfig struct {
	URL            string `toml:"url"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	DB             int    `toml:"db"`
	Password       string `toml:"password"`
	ConnectRetries uint64 `toml:"connect_retries"`
}

// GenerationConfig controls how the generation service is reached.
type GenerationConfig struct {
	URL       string `toml:"url"`
	Mode      string `toml:"mode"` // "stream" or "sync"
	Timeout   string `toml:"timeout"`
	Workspace string `toml:"workspace"`
}

// TasksConfig bounds task admission and processing.
type TasksConfig struct {
	MaxSampleCount     int    `toml:"max_sample_count"`
	DefaultSampleCount int    `toml:"default_sample_count"`
	FlushInterval      string `toml:"flush_interval"`
	FallbackStep       string `toml:"fallback_step"`
	HealthInterval     string `toml:"health_interval"`
}

// StubConfig controls the bundled generation-service stub.
type StubConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Pages     int    `toml:"pages"`
	StepDelay string `toml:"step_delay"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			MaxUploadSize:  "50MB",
			RequestTimeout: "5m",
			Metrics:        true,
		},
		Store: StoreConfig{
			Driver:    "redis",
			TTL:       "1d",
			SQLiteDir: filepath.Join(home(), "data"),
		},
		Redis: RedisConfig{
			Host:           "localhost",
			Port:           6379,
			ConnectRetries: 5,
		},
		Generation: GenerationConfig{
			URL:       "http://deeppresenter-host:7861",
			Mode:      "stream",
			Timeout:   "10m",
			Workspace: "/workspace",
		},
		Tasks: TasksConfig{
			MaxSampleCount:     4,
			DefaultSampleCount: 1,
			FlushInterval:      "2s",
			FallbackStep:       "500ms",
			HealthInterval:     "1m",
		},
		Stub: StubConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			Pages:     5,
			StepDelay: "200ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads $SLIDEFORGE_HOME/config.toml (falling back to defaults),
// loads a .env file from the working directory if present and applies
// environment overrides.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := LoadConfigFile(ConfigPath())
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile decodes path over the defaults. A missing file is not an
// error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $SLIDEFORGE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("API_HOST", &c.API.Host)
	str("PPTAGENT_WORKSPACE", &c.Generation.Workspace)
	str("PPTAGENT_DOCKER_URL", &c.Generation.URL)
	str("GENERATION_MODE", &c.Generation.Mode)
	str("SLIDEFORGE_STORE", &c.Store.Driver)
	str("LOG_LEVEL", &c.Logging.Level)

	for key, dst := range map[string]*int{
		"REDIS_PORT":           &c.Redis.Port,
		"REDIS_DB":             &c.Redis.DB,
		"API_PORT":             &c.API.Port,
		"MAX_SAMPLE_COUNT":     &c.Tasks.MaxSampleCount,
		"DEFAULT_SAMPLE_COUNT": &c.Tasks.DefaultSampleCount,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok && v != "" {
		c.API.CORSOrigins = splitList(v)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	switch c.Store.Driver {
	case "redis", "sqlite":
	default:
		return fmt.Errorf("store.driver %q: want redis or sqlite", c.Store.Driver)
	}
	if c.Tasks.MaxSampleCount < 1 {
		return fmt.Errorf("tasks.max_sample_count must be at least 1")
	}
	if c.Tasks.DefaultSampleCount < 1 || c.Tasks.DefaultSampleCount > c.Tasks.MaxSampleCount {
		return fmt.Errorf("tasks.default_sample_count must be between 1 and %d", c.Tasks.MaxSampleCount)
	}
	for name, v := range map[string]string{
		"store.ttl":             c.Store.TTL,
		"api.request_timeout":   c.API.RequestTimeout,
		"generation.timeout":    c.Generation.Timeout,
		"tasks.flush_interval":  c.Tasks.FlushInterval,
		"tasks.fallback_step":   c.Tasks.FallbackStep,
		"tasks.health_interval": c.Tasks.HealthInterval,
		"stub.step_delay":       c.Stub.StepDelay,
	} {
		if v == "" {
			continue
		}
		if _, err := str2duration.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.API.MaxUploadSize != "" {
		if _, err := humanize.ParseBytes(c.API.MaxUploadSize); err != nil {
			return fmt.Errorf("api.max_upload_size: %w", err)
		}
	}
	return nil
}

// ConfigPath returns the location of the config file.
func ConfigPath() string {
	return filepath.Join(home(), "config.toml")
}

// home returns the slideforge data directory.
func home() string {
	if env := os.Getenv("SLIDEFORGE_HOME"); env != "" {
		return env
	}
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".slideforge")
}

// Home is exported for use by other packages.
func Home() string {
	return home()
}

// parseSize converts "50MB" to bytes, returning a fallback on error.
func parseSize(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := humanize.ParseBytes(s)
	if err != nil || n == 0 {
		return fallback
	}
	return int64(n)
}

// parseDuration parses a duration string such as "1d12h", returning a
// fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
