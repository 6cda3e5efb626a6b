// Package config loads chainctl settings.
//
// Sources are applied in order, later ones win:
//
//  1. built-in defaults
//  2. the YAML file given by --config (a missing file is not an error)
//  3. a .env file in the working directory
//  4. COMMENTCHAIN_* environment variables
//
// The merged result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COMMENTCHAIN_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config is the full chainctl configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects and configures the chain store.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres badger"`
	// Path is the database file (sqlite) or directory (badger).
	Path string `yaml:"path" validate:"required_if=Driver sqlite,required_if=Driver badger"`
	DSN  string `yaml:"dsn" validate:"required_if=Driver postgres"`
	// Isolation is the postgres transaction isolation level.
	Isolation string `yaml:"isolation" validate:"omitempty,oneof=read_committed repeatable_read serializable"`
	// SyncWrites makes badger fsync every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

// EngineConfig tunes the chain engine.
type EngineConfig struct {
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0,lte=100"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
	MaxTextLength  int           `yaml:"max_text_length" validate:"gte=0"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"oneof=console json"`
	// File appends logs to a file instead of stderr.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:    DriverSQLite,
			Path:      "comments.db",
			Isolation: "read_committed",
		},
		Engine: EngineConfig{
			MaxRetries:     5,
			RetryBaseDelay: 10 * time.Millisecond,
			RetryMaxDelay:  time.Second,
			MaxTextLength:  2000,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

var validate = validator.New()

// Validate checks the merged configuration.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// Load merges defaults, the YAML file at path, .env and the environment.
// An empty path skips the file; a path that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := loadEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_DSN", &cfg.Storage.DSN)
	str("STORAGE_ISOLATION", &cfg.Storage.Isolation)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)

	if v, ok := os.LookupEnv(EnvPrefix + "STORAGE_SYNC_WRITES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTORAGE_SYNC_WRITES: %w", EnvPrefix, err)
		}
		cfg.Storage.SyncWrites = b
	}

	ints := map[string]*int{
		"ENGINE_MAX_RETRIES":      &cfg.Engine.MaxRetries,
		"ENGINE_MAX_TEXT_LENGTH": &cfg.Engine.MaxTextLength,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = i
		}
	}

	durations := map[string]*time.Duration{
		"ENGINE_RETRY_BASE_DELAY": &cfg.Engine.RetryBaseDelay,
		"ENGINE_RETRY_MAX_DELAY":  &cfg.Engine.RetryMaxDelay,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}
