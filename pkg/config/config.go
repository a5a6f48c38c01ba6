// Package config implements layered process configuration for the
// dxecore binary: CLI flags, environment variables, a YAML config
// file, and compiled-in defaults, in that order of precedence.
// Grounded on pkg/config/config.go's Config/Load/MustLoad/SaveConfig
// shape: a viper.Viper instance reads environment and file, decodes
// into a tagged struct via mapstructure (with custom decode hooks for
// time.Duration), ApplyDefaults fills in anything still zero, and
// Validate runs go-playground/validator's struct tags over the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the dxecore process's static configuration.
//
// Configuration sources, in order of precedence (highest to lowest):
//  1. CLI flags (bound directly onto a *Config by cmd/dxecore, after Load)
//  2. Environment variables (DXECORE_*)
//  3. A YAML configuration file
//  4. Compiled-in defaults
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Gcd sizes the Global Coherency Domain address spaces a session
	// starts with.
	Gcd GcdConfig `mapstructure:"gcd" yaml:"gcd"`

	// Simulation points at the firmware-volume manifest a session loads
	// in place of real flash-resident FFS content.
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`

	// Debug configures the loopback HTTP introspection server.
	Debug DebugConfig `mapstructure:"debug" yaml:"debug"`

	// Dispatch configures driver dispatch/connection ordering for a
	// simulated run.
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// GcdConfig sizes the memory and I/O Global Coherency Domain maps a
// session's gcd.Domain starts with.
type GcdConfig struct {
	// AddressBits is the address width passed to gcd.New: both maps
	// span [0, 2^AddressBits).
	AddressBits uint `mapstructure:"address_bits" validate:"omitempty,min=1,max=64" yaml:"address_bits"`

	// BlockTableCapacity caps the number of blocks either GCD map's
	// interval table may ever hold. A session that fragments its
	// address space past this ceiling gets out-of-resources back from
	// the GCD, matching the reference implementation's fixed-size
	// interval table instead of growing one without bound. 0 would mean
	// uncapped, but that isn't a sensible default for a session that
	// models a genuinely resource-bounded table.
	BlockTableCapacity uint `mapstructure:"block_table_capacity" validate:"omitempty,min=1" yaml:"block_table_capacity"`
}

// SimulationConfig points a session at the firmware-volume manifest
// internal/collab/simulate loads in place of real flash content.
type SimulationConfig struct {
	// ManifestPath is the path to a JSON firmware-volume manifest file.
	ManifestPath string `mapstructure:"manifest_path" validate:"required" yaml:"manifest_path"`
}

// DebugConfig configures internal/debugsrv, the loopback-only HTTP
// introspection server.
type DebugConfig struct {
	// Enabled controls whether the debug server is started at all.
	// Default: false (opt-in, since it exposes internal session state).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the address the debug server listens on.
	// Default: "127.0.0.1:9393".
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port" yaml:"addr"`

	// ReadTimeout is the debug server's request read timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the debug server's response write timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DispatchConfig configures driver dispatch/connection ordering for a
// simulated run.
type DispatchConfig struct {
	// DriverBindingPriority lists driver FFS name GUIDs (as strings) in
	// the order cmd/dxecore should register their driver bindings with
	// internal/connect.Engine. This is a demo-session convenience, not a
	// change to ConnectController's own ranking: Engine always ranks
	// installed bindings by version, highest first, falling back to
	// installation order for ties — so registering bindings in this
	// order is how a caller influences tie-break order without Engine
	// needing to know about the list itself.
	DriverBindingPriority []string `mapstructure:"driver_binding_priority" yaml:"driver_binding_priority,omitempty"`
}

// Load loads configuration from a file, the environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file (empty string uses the default location)
//
// Returns the loaded and validated configuration, or an error.
//
// If no config file is found, Load returns GetDefaultConfig() and does
// not read environment variables. When a file is found, environment
// variables override only the keys that the file sets.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, turning a missing explicit config path
// into a user-actionable error.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config: file not found: %s", configPath)
		}
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: failed to create directory %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// setupViper wires environment variable and config-file search
// behavior onto v. Environment variables use the DXECORE_ prefix with
// underscores in place of dots, e.g. DXECORE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DXECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads v's configured file, reporting (found=false,
// nil) rather than an error when no file exists at the search location.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to read file: %w", err)
	}
	return true, nil
}

// durationDecodeHook lets config files and environment variables spell
// durations as human-readable strings ("30s", "5m") instead of raw
// nanosecond integers.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/dxecore,
// falling back to ~/.config/dxecore, or "." if the home directory can't be
// determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dxecore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dxecore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
