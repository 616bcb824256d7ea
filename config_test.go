package querysync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:8000/api"
	cfg.Store.Type = StoreMemory
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DeviceID != "default-device" {
		t.Errorf("Expected DeviceID 'default-device', got %s", cfg.DeviceID)
	}
	if cfg.StaleTime != 60*time.Second {
		t.Errorf("Expected StaleTime 60s, got %v", cfg.StaleTime)
	}
	if cfg.KeepUnusedFor != 60*time.Second {
		t.Errorf("Expected KeepUnusedFor 60s, got %v", cfg.KeepUnusedFor)
	}
	if cfg.Store.Type != StoreSQLite {
		t.Errorf("Expected sqlite store, got %s", cfg.Store.Type)
	}
	if cfg.LocalCache != LocalCacheLRU {
		t.Errorf("Expected lru idle pool, got %s", cfg.LocalCache)
	}
	if cfg.Logger != nil {
		t.Error("Logger should be nil by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, ErrInvalidConfig},
		{"missing device id", func(c *Config) { c.DeviceID = "" }, ErrInvalidConfig},
		{"negative stale time", func(c *Config) { c.StaleTime = -time.Second }, ErrInvalidConfig},
		{"unknown local cache", func(c *Config) { c.LocalCache = "arc" }, ErrInvalidConfig},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, ErrUnknownStore},
		{"sqlite without path", func(c *Config) { c.Store = StoreConfig{Type: StoreSQLite} }, ErrInvalidConfig},
		{"sync without redis", func(c *Config) { c.Sync.Enabled = true; c.Redis.Addr = "" }, ErrInvalidConfig},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidConfig},
		{"bad store format", func(c *Config) { c.Store.Format = "gob" }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Expected valid config, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfigFromYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "querysync.yaml")
	yamlData := `
base_url: https://api.example.com/api
device_id: phone-1
stale_time: 30s
local_cache: lfu
store:
  type: memory
log:
  level: warn
  format: json
`
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("QUERYSYNC_DEVICE_ID", "phone-2")
	t.Setenv("QUERYSYNC_REDIS_DB", "3")
	t.Setenv("QUERYSYNC_KEEP_UNUSED_FOR", "2m")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.BaseURL != "https://api.example.com/api" {
		t.Errorf("Expected base url from file, got %s", cfg.BaseURL)
	}
	if cfg.DeviceID != "phone-2" {
		t.Errorf("Expected env to override device id, got %s", cfg.DeviceID)
	}
	if cfg.StaleTime != 30*time.Second {
		t.Errorf("Expected StaleTime 30s, got %v", cfg.StaleTime)
	}
	if cfg.KeepUnusedFor != 2*time.Minute {
		t.Errorf("Expected KeepUnusedFor 2m, got %v", cfg.KeepUnusedFor)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Expected Redis DB 3, got %d", cfg.Redis.DB)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected default Redis addr to survive, got %s", cfg.Redis.Addr)
	}
	if cfg.LocalCache != LocalCacheLFU || cfg.Store.Type != StoreMemory {
		t.Errorf("Unexpected cache/store selection: %s/%s", cfg.LocalCache, cfg.Store.Type)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "warn" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv("QUERYSYNC_BASE_URL", "http://127.0.0.1:9000")
	t.Setenv("QUERYSYNC_STORE_TYPE", "memory")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.BaseURL != "http://127.0.0.1:9000" {
		t.Errorf("Expected base url from env, got %s", cfg.BaseURL)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("base_url: [unterminated"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(path, []byte("store:\n  type: memory\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig without base url, got %v", err)
	}
}
