// ABOUTME: docvault configuration loaded from YAML with defaults
// ABOUTME: DOCVAULT_CONFIG names the file when no path is given

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPath is the environment variable consulted for the config file path
const EnvPath = "DOCVAULT_CONFIG"

// Storage backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config is the full docvault configuration
type Config struct {
	DataDir  string         `yaml:"dataDir"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Audit    AuditConfig    `yaml:"audit"`
	Locks    LockConfig     `yaml:"locks"`
	Security SecurityConfig `yaml:"security"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console auto"`
	WithCaller bool   `yaml:"withCaller"`
}

// StorageConfig selects and tunes the persistence adapter
type StorageConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory badger"`
	SyncWrites bool   `yaml:"syncWrites"`
	CacheSize  int    `yaml:"cacheSize" validate:"gte=0"`
}

// AuditConfig controls the audit sink and alert dispatch
type AuditConfig struct {
	// Journal enables the durable audit journal under DataDir
	Journal        bool          `yaml:"journal"`
	MaxSegmentSize int64         `yaml:"maxSegmentSize" validate:"gte=0"`
	AlertTimeout   time.Duration `yaml:"alertTimeout" validate:"gte=0"`
	Webhooks       []Webhook     `yaml:"webhooks" validate:"dive"`
}

// Webhook is an HTTP alert target
type Webhook struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Headers map[string]string `yaml:"headers"`
}

// LockConfig tunes the lock manager
type LockConfig struct {
	DefaultDuration time.Duration `yaml:"defaultDuration" validate:"gt=0"`
	RequireEditLock bool          `yaml:"requireEditLock"`
}

// SecurityConfig enables profile enforcement
type SecurityConfig struct {
	// Enforce makes protected operations consult stored security profiles.
	// Documents without a profile are then denied.
	Enforce bool `yaml:"enforce"`
}

// MetricsConfig configures the observability server
type MetricsConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	EnablePprof bool   `yaml:"enablePprof"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		DataDir: "docvault-data",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Storage: StorageConfig{
			Backend:    BackendBadger,
			SyncWrites: true,
			CacheSize:  256,
		},
		Audit: AuditConfig{
			Journal:        true,
			MaxSegmentSize: 64 << 20,
			AlertTimeout:   5 * time.Second,
		},
		Locks: LockConfig{
			DefaultDuration: 30 * time.Minute,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the config at path, falling back to $DOCVAULT_CONFIG and then
// to Default. Fields missing from the file keep their default values.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks field constraints
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DataDir == "" && (c.Storage.Backend == BackendBadger || c.Audit.Journal) {
		return errors.New("invalid config: dataDir is required for the badger backend or the audit journal")
	}
	return nil
}

// JournalPath is the base path of the audit journal segments
func (c Config) JournalPath() string {
	return filepath.Join(c.DataDir, "audit", "audit.journal")
}

// DatabaseDir is the badger directory
func (c Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, "db")
}
