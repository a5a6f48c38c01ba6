package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills in any unspecified configuration fields with
// sensible defaults. Zero values (0, "", false, nil) are replaced;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyGcdDefaults(&cfg.Gcd)
	applyDebugDefaults(&cfg.Debug)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyGcdDefaults(cfg *GcdConfig) {
	// 36 address bits covers 64GB, matching the address space the
	// reference implementation's QEMU Q35 platform exposes.
	if cfg.AddressBits == 0 {
		cfg.AddressBits = 36
	}
	// 4096 blocks is generous headroom for a simulated session's
	// manifest-driven fragmentation; production firmware sizes its
	// interval table to the platform's actual memory map.
	if cfg.BlockTableCapacity == 0 {
		cfg.BlockTableCapacity = 4096
	}
}

func applyDebugDefaults(cfg *DebugConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9393"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
}

// GetDefaultConfig returns a Config with every default applied and no
// config file or environment involved. Simulation.ManifestPath is left
// unset: unlike every other field, it names a file the caller must
// supply, and there is no sensible default manifest to point at.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
