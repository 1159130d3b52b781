package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if !cfg.Batch.Enabled {
		t.Fatal("batching must default to enabled")
	}
	if cfg.Ledger.Type != "memory" {
		t.Fatalf("default ledger type = %q", cfg.Ledger.Type)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero batch size", func(c *Config) { c.Batch.MaxBatchSize = 0 }, "max_batch_size"},
		{"min above max", func(c *Config) { c.Batch.MinBatchSize = 200 }, "min_batch_size"},
		{"zero age", func(c *Config) { c.Batch.MaxBatchAgeMs = 0 }, "max_batch_age_ms"},
		{"pending below batch", func(c *Config) { c.Batch.MaxPending = 10 }, "max_pending"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "workers"},
		{"evm without endpoints", func(c *Config) { c.Ledger.Type = "evm" }, "ledger.endpoints"},
		{"bogus ledger", func(c *Config) { c.Ledger.Type = "carrier-pigeon" }, "ledger.type"},
		{"bogus scheme", func(c *Config) { c.Signing.Scheme = "rot13" }, "signing.scheme"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bogus storage", func(c *Config) { c.Storage.Type = "papyrus" }, "storage.type"},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch.MaxBatchSize = 0
	cfg.Server.Listen = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_batch_size", "server.listen"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("joined error %q missing %q", err, want)
		}
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[batch]
enabled = true
max_batch_size = 25
min_batch_size = 2
max_batch_age_ms = 5000
workers = 4

[ledger]
type = "evm"
endpoints = ["http://rpc-a.example:8545", "http://rpc-b.example:8545"]
method = "anchor_submitRoot"
timeout_sec = 10

[storage]
type = "memory"

[server]
listen = "127.0.0.1:9999"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.MaxBatchSize != 25 || cfg.Batch.Workers != 4 {
		t.Fatalf("batch section wrong: %+v", cfg.Batch)
	}
	if cfg.Batch.MaxBatchAge() != 5*time.Second {
		t.Fatalf("MaxBatchAge = %v", cfg.Batch.MaxBatchAge())
	}
	if cfg.Ledger.Type != "evm" || len(cfg.Ledger.Endpoints) != 2 {
		t.Fatalf("ledger section wrong: %+v", cfg.Ledger)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging defaults lost: %+v", cfg.Logging)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
batch:
  enabled: true
  max_batch_size: 7
  min_batch_size: 1
  max_batch_age_ms: 1000
  workers: 1
storage:
  type: memory
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.MaxBatchSize != 7 {
		t.Fatalf("max_batch_size = %d", cfg.Batch.MaxBatchSize)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "nope.toml")).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Batch.MaxBatchSize != DefaultConfig().Batch.MaxBatchSize {
		t.Fatal("missing file must yield defaults")
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[batch]
enabled = true
max_batch_size = -5
min_batch_size = 1
max_batch_age_ms = 1000
workers = 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("invalid config must fail to load")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANCHORD_LISTEN", "0.0.0.0:7070")
	t.Setenv("ANCHORD_LOG_LEVEL", "debug")
	t.Setenv("ANCHORD_MAX_BATCH_SIZE", "42")
	t.Setenv("ANCHORD_LEDGER_ENDPOINT", "http://rpc.example:8545")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Listen != "0.0.0.0:7070" {
		t.Fatalf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Batch.MaxBatchSize != 42 {
		t.Fatalf("max_batch_size = %d", cfg.Batch.MaxBatchSize)
	}
	if len(cfg.Ledger.Endpoints) != 1 || cfg.Ledger.Endpoints[0] != "http://rpc.example:8545" {
		t.Fatalf("endpoints = %v", cfg.Ledger.Endpoints)
	}
}

func TestEnvOverrideIgnoresMalformedNumber(t *testing.T) {
	t.Setenv("ANCHORD_MAX_BATCH_SIZE", "a-lot")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Batch.MaxBatchSize != DefaultConfig().Batch.MaxBatchSize {
		t.Fatalf("malformed override applied: %d", cfg.Batch.MaxBatchSize)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Batch.MaxBatchSize = 33
	cfg.Storage.Type = "memory"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Batch.MaxBatchSize != 33 || got.Storage.Type != "memory" {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if !created {
		t.Fatal("expected a file to be created")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if cfg.Batch.MaxBatchSize != DefaultConfig().Batch.MaxBatchSize {
		t.Fatal("created config is not the default")
	}

	// Second call loads the existing file.
	if _, created, err = LoadOrCreate(path); err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
}

func TestHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("save: %v", err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := l.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Batch.MaxBatchSize = 250
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case got := <-changed:
		if got.Batch.MaxBatchSize != 250 {
			t.Fatalf("reloaded max_batch_size = %d", got.Batch.MaxBatchSize)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}

	if l.Config().Batch.MaxBatchSize != 250 {
		t.Fatal("Config() does not reflect the reload")
	}
}

func TestHotReloadKeepsOldConfigOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatalf("save: %v", err)
	}

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := l.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer l.Close()

	bad := `
[batch]
enabled = true
max_batch_size = 0
min_batch_size = 1
max_batch_age_ms = 1000
workers = 1
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}

	select {
	case err := <-l.Errors():
		if !strings.Contains(err.Error(), "max_batch_size") {
			t.Fatalf("unexpected reload error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload error never surfaced")
	}

	if l.Config().Batch.MaxBatchSize != DefaultConfig().Batch.MaxBatchSize {
		t.Fatal("bad reload clobbered the running config")
	}
}
