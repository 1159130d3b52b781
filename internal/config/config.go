// Package config handles configuration loading, validation, and hot reload
// for anchord.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Batch configuration for the event accumulator and anchoring workers.
	Batch BatchConfig `toml:"batch" json:"batch" yaml:"batch"`

	// Ledger configuration for the anchoring backend.
	Ledger LedgerConfig `toml:"ledger" json:"ledger" yaml:"ledger"`

	// Signing configuration for event signatures.
	Signing SigningConfig `toml:"signing" json:"signing" yaml:"signing"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Compliance configuration for audit checks.
	Compliance ComplianceConfig `toml:"compliance" json:"compliance" yaml:"compliance"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Server configuration for the admin API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`
}

// BatchConfig tunes batch accumulation and anchoring.
type BatchConfig struct {
	// Enabled determines whether batching is active. When false, ingested
	// events are signed and stored but never batched or anchored.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// MaxBatchSize triggers an immediate flush when the buffer reaches it.
	MaxBatchSize int `toml:"max_batch_size" json:"max_batch_size" yaml:"max_batch_size"`

	// MinBatchSize is the smallest buffer an age-triggered flush will emit.
	MinBatchSize int `toml:"min_batch_size" json:"min_batch_size" yaml:"min_batch_size"`

	// MaxBatchAgeMs flushes a non-empty buffer after this many milliseconds.
	MaxBatchAgeMs int `toml:"max_batch_age_ms" json:"max_batch_age_ms" yaml:"max_batch_age_ms"`

	// MaxPending bounds the buffer; reaching it forces a flush so a
	// stalled ledger cannot grow the buffer without limit.
	MaxPending int `toml:"max_pending" json:"max_pending" yaml:"max_pending"`

	// Workers is the number of concurrent anchoring workers.
	Workers int `toml:"workers" json:"workers" yaml:"workers"`

	// AnchorTimeoutSec bounds a single ledger anchoring call.
	AnchorTimeoutSec int `toml:"anchor_timeout_sec" json:"anchor_timeout_sec" yaml:"anchor_timeout_sec"`
}

// LedgerConfig selects and tunes the anchoring backend.
type LedgerConfig struct {
	// Type is the ledger backend: "evm" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Endpoints is the list of JSON-RPC endpoints, tried in order.
	Endpoints []string `toml:"endpoints" json:"endpoints" yaml:"endpoints"`

	// Method is the JSON-RPC method used to submit a root.
	Method string `toml:"method" json:"method" yaml:"method"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// SigningConfig holds event signing configuration.
type SigningConfig struct {
	// Scheme is the signature scheme: "ed25519" (default) or "hmac-sha256".
	Scheme string `toml:"scheme" json:"scheme" yaml:"scheme"`

	// KeyPath is the path to the Ed25519 private key.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// PublicKeyPath is the path to the Ed25519 public key.
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path"`

	// HMACKeyHex is the hex-encoded HMAC key. Prefer the
	// ANCHORD_HMAC_KEY environment variable over the config file.
	HMACKeyHex string `toml:"hmac_key_hex" json:"hmac_key_hex" yaml:"hmac_key_hex"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`
}

// ComplianceConfig tunes the audit verifier.
type ComplianceConfig struct {
	// ClockSkewSec is the allowed forward drift of source timestamps.
	ClockSkewSec int `toml:"clock_skew_sec" json:"clock_skew_sec" yaml:"clock_skew_sec"`

	// RetentionDays is the audit horizon; 0 disables the age check.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stderr", "stdout", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// ServerConfig holds the admin API configuration.
type ServerConfig struct {
	// Listen is the address the admin API binds to.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// ReadTimeoutSec and WriteTimeoutSec bound request handling.
	ReadTimeoutSec  int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			Enabled:          true,
			MaxBatchSize:     100,
			MinBatchSize:     1,
			MaxBatchAgeMs:    30000,
			MaxPending:       1000,
			Workers:          2,
			AnchorTimeoutSec: 30,
		},
		Ledger: LedgerConfig{
			Type:       "memory",
			Method:     "anchor_submitRoot",
			TimeoutSec: 30,
		},
		Signing: SigningConfig{
			Scheme: "ed25519",
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: filepath.Join(dataDir(), "anchord.db"),
		},
		Compliance: ComplianceConfig{
			ClockSkewSec:  300,
			RetentionDays: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8780",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 30,
		},
	}
}

// dataDir returns the default data directory.
func dataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "anchord")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "anchord-data"
	}
	return filepath.Join(home, ".local", "share", "anchord")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	if v := os.Getenv("ANCHORD_CONFIG"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "anchord", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "anchord.toml"
	}
	return filepath.Join(home, ".config", "anchord", "config.toml")
}

// ApplyEnvOverrides applies ANCHORD_* environment variables on top of the
// loaded configuration. Secrets should come from the environment rather
// than the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ANCHORD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("ANCHORD_SIGNING_KEY_PATH"); v != "" {
		c.Signing.KeyPath = v
	}
	if v := os.Getenv("ANCHORD_HMAC_KEY"); v != "" {
		c.Signing.HMACKeyHex = v
	}
	if v := os.Getenv("ANCHORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ANCHORD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("ANCHORD_LEDGER_ENDPOINT"); v != "" {
		c.Ledger.Endpoints = []string{v}
	}
	if v := os.Getenv("ANCHORD_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Batch.MaxBatchSize = n
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.Batch.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_batch_size must be positive, got %d", c.Batch.MaxBatchSize))
	}
	if c.Batch.MinBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.min_batch_size must be positive, got %d", c.Batch.MinBatchSize))
	}
	if c.Batch.MinBatchSize > c.Batch.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch.min_batch_size %d exceeds max_batch_size %d",
			c.Batch.MinBatchSize, c.Batch.MaxBatchSize))
	}
	if c.Batch.MaxBatchAgeMs <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_batch_age_ms must be positive, got %d", c.Batch.MaxBatchAgeMs))
	}
	if c.Batch.MaxPending > 0 && c.Batch.MaxPending < c.Batch.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch.max_pending %d is below max_batch_size %d",
			c.Batch.MaxPending, c.Batch.MaxBatchSize))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers))
	}

	switch c.Ledger.Type {
	case "evm":
		if len(c.Ledger.Endpoints) == 0 {
			errs = append(errs, errors.New("ledger.endpoints is required for ledger.type=evm"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("ledger.type must be evm or memory, got %q", c.Ledger.Type))
	}

	// Key material is resolved at startup; a missing key falls back to an
	// ephemeral one with a logged warning, so it is not a validation error.
	switch c.Signing.Scheme {
	case "ed25519", "hmac-sha256":
	default:
		errs = append(errs, fmt.Errorf("signing.scheme must be ed25519 or hmac-sha256, got %q", c.Signing.Scheme))
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for storage.type=sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be sqlite or memory, got %q", c.Storage.Type))
	}

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}

	return errors.Join(errs...)
}

// MaxBatchAge returns the accumulator age threshold as a duration.
func (c *BatchConfig) MaxBatchAge() time.Duration {
	return time.Duration(c.MaxBatchAgeMs) * time.Millisecond
}

// AnchorTimeout returns the anchoring timeout as a duration.
func (c *BatchConfig) AnchorTimeout() time.Duration {
	return time.Duration(c.AnchorTimeoutSec) * time.Second
}

// Timeout returns the ledger request timeout as a duration.
func (c *LedgerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ClockSkew returns the compliance clock-skew allowance as a duration.
func (c *ComplianceConfig) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSec) * time.Second
}

// Retention returns the compliance retention horizon as a duration.
func (c *ComplianceConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Ledger.Endpoints = append([]string(nil), c.Ledger.Endpoints...)
	return &cp
}

// SaveConfig writes the configuration to a TOML file.
func SaveConfig(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
