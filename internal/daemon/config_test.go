package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "0.0.0.0")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8000)
	}
	if cfg.Tasks.MaxSampleCount != 4 {
		t.Errorf("Tasks.MaxSampleCount = %d, want 4", cfg.Tasks.MaxSampleCount)
	}
	if cfg.Store.Driver != "redis" {
		t.Errorf("Store.Driver = %q, want redis", cfg.Store.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[api]
port = 9000
cors_origins = ["*"]

[store]
driver = "sqlite"
ttl = "2d"

[tasks]
max_sample_count = 6
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.Store.Driver != "sqlite" || cfg.Tasks.MaxSampleCount != 6 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Generation.Workspace != "/workspace" {
		t.Errorf("unset fields keep defaults, Generation.Workspace = %q", cfg.Generation.Workspace)
	}
	if got := parseDuration(cfg.Store.TTL, 0); got != 48*time.Hour {
		t.Errorf("store ttl = %v, want 48h", got)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml")); err != nil {
		t.Errorf("missing file should fall back to defaults, got %v", err)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv("SLIDEFORGE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.API.Port = 8100
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	got, err := LoadConfigFile(ConfigPath())
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if got.API.Port != 8100 {
		t.Errorf("API.Port = %d, want 8100", got.API.Port)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("API_PORT", "8001")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("MAX_SAMPLE_COUNT", "8")
	t.Setenv("PPTAGENT_WORKSPACE", "/data/ws")
	t.Setenv("PPTAGENT_DOCKER_URL", "http://gen:7861")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.Redis.Host != "redis.internal" || cfg.Redis.Port != 6380 || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.API.Port != 8001 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.API.CORSOrigins)
	}
	if cfg.Tasks.MaxSampleCount != 8 {
		t.Errorf("MaxSampleCount = %d", cfg.Tasks.MaxSampleCount)
	}
	if cfg.Generation.Workspace != "/data/ws" || cfg.Generation.URL != "http://gen:7861" {
		t.Errorf("generation = %+v", cfg.Generation)
	}

	t.Setenv("API_PORT", "eighty")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("ApplyEnv() should reject a non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.API.Port = 0 }},
		{"driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"max samples", func(c *Config) { c.Tasks.MaxSampleCount = 0 }},
		{"default samples", func(c *Config) { c.Tasks.DefaultSampleCount = 9 }},
		{"duration", func(c *Config) { c.Tasks.FlushInterval = "soon" }},
		{"size", func(c *Config) { c.API.MaxUploadSize = "big" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"50MB", 50 * 1000 * 1000},
		{"10MiB", 10 * 1024 * 1024},
		{"1GB", 1000 * 1000 * 1000},
		{"", 42},
		{"lots", 42},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseSize(tt.input, 42); got != tt.want {
				t.Errorf("parseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if got := parseDuration("1d2h", 0); got != 26*time.Hour {
		t.Errorf("parseDuration(1d2h) = %v", got)
	}
	if got := parseDuration("nope", time.Second); got != time.Second {
		t.Errorf("parseDuration(nope) = %v, want fallback", got)
	}
}
