// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqkeys.
//
// go-pqkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PQKEYS_"

// Config represents the complete daemon configuration
type Config struct {
	Lifecycle LifecycleConfig  `yaml:"lifecycle"`
	Provider  string           `yaml:"provider"`
	HSM       hsm.Config       `yaml:"hsm"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Server    ServerConfig     `yaml:"server"`
	Audit     AuditConfig      `yaml:"audit"`
}

// LifecycleConfig controls key limits, rotation and the background sweep
type LifecycleConfig struct {
	MaxKeysPerUser   int           `yaml:"max_keys_per_user"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	KeyLifetime      time.Duration `yaml:"key_lifetime"`
	Workers          int           `yaml:"workers"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	AutoRotate       bool          `yaml:"auto_rotate"`
	LockMemory       bool          `yaml:"lock_memory"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig controls the operational HTTP listener
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// AuditConfig controls where security events are written
type AuditConfig struct {
	// File receives one JSON security event per line. Empty disables it.
	File string `yaml:"file"`
	// Buffer is the number of recent events kept for /v1/events.
	Buffer int `yaml:"buffer"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Lifecycle: LifecycleConfig{
			MaxKeysPerUser:   lifecycle.DefaultMaxKeysPerUser,
			RotationInterval: lifecycle.DefaultRotationInterval,
			KeyLifetime:      lifecycle.DefaultKeyLifetime,
			Workers:          lifecycle.DefaultWorkers,
			SweepInterval:    time.Minute,
			AutoRotate:       true,
		},
		Provider: "circl",
		HSM: hsm.Config{
			Type:    "none",
			Timeout: lifecycle.DefaultHSMTimeout,
		},
		RateLimit: ratelimit.Config{
			Enabled:           false,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Buffer: 256,
		},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := env("PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := env("HOST"); v != "" {
		cfg.Server.Host = v
	}
	envInt("PORT", &cfg.Server.Port)
	envInt("MAX_KEYS_PER_USER", &cfg.Lifecycle.MaxKeysPerUser)
	envInt("WORKERS", &cfg.Lifecycle.Workers)
	envDuration("ROTATION_INTERVAL", &cfg.Lifecycle.RotationInterval)
	envDuration("KEY_LIFETIME", &cfg.Lifecycle.KeyLifetime)
	envDuration("SWEEP_INTERVAL", &cfg.Lifecycle.SweepInterval)

	if v := env("HSM_TYPE"); v != "" {
		cfg.HSM.Type = v
	}
	envDuration("HSM_TIMEOUT", &cfg.HSM.Timeout)

	if v := env("AUDIT_FILE"); v != "" {
		cfg.Audit.File = v
	}

	// Vault settings
	if cfg.HSM.Vault != nil {
		if addr := os.Getenv("VAULT_ADDR"); addr != "" {
			cfg.HSM.Vault.Address = addr
		}
		if token := os.Getenv("VAULT_TOKEN"); token != "" {
			cfg.HSM.Vault.Token = token
		}
		if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
			cfg.HSM.Vault.Namespace = namespace
		}
	}

	// PKCS#11 settings
	if cfg.HSM.PKCS11 != nil {
		if lib := os.Getenv("PKCS11_LIBRARY"); lib != "" {
			cfg.HSM.PKCS11.Library = lib
		}
		if pin := env("PKCS11_PIN"); pin != "" {
			cfg.HSM.PKCS11.PIN = pin
		}
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envInt(name string, dst *int) {
	raw := env(name)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid %s%s value %q, using %d: %v", EnvPrefix, name, raw, *dst, err)
		return
	}
	*dst = v
}

func envDuration(name string, dst *time.Duration) {
	raw := env(name)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: invalid %s%s value %q, using %s: %v", EnvPrefix, name, raw, *dst, err)
		return
	}
	*dst = v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Lifecycle.MaxKeysPerUser < 1 {
		return fmt.Errorf("lifecycle.max_keys_per_user must be positive: %d", c.Lifecycle.MaxKeysPerUser)
	}
	if c.Lifecycle.RotationInterval <= 0 {
		return fmt.Errorf("lifecycle.rotation_interval must be positive: %s", c.Lifecycle.RotationInterval)
	}
	if c.Lifecycle.KeyLifetime <= 0 {
		return fmt.Errorf("lifecycle.key_lifetime must be positive: %s", c.Lifecycle.KeyLifetime)
	}
	if c.Lifecycle.Workers < 1 {
		return fmt.Errorf("lifecycle.workers must be positive: %d", c.Lifecycle.Workers)
	}
	if c.Lifecycle.SweepInterval < 0 {
		return fmt.Errorf("lifecycle.sweep_interval must not be negative: %s", c.Lifecycle.SweepInterval)
	}

	switch strings.ToLower(c.Provider) {
	case "circl", "liboqs":
	default:
		return fmt.Errorf("invalid provider: %s (must be circl or liboqs)", c.Provider)
	}

	switch strings.ToLower(c.HSM.Type) {
	case "", "none", "memory":
	case "vault":
		if c.HSM.Vault == nil || c.HSM.Vault.Address == "" {
			return fmt.Errorf("hsm.vault.address is required when hsm.type is vault")
		}
	case "pkcs11":
		if c.HSM.PKCS11 == nil || c.HSM.PKCS11.Library == "" {
			return fmt.Errorf("hsm.pkcs11.library is required when hsm.type is pkcs11")
		}
	default:
		return fmt.Errorf("invalid hsm type: %s (must be none, memory, vault or pkcs11)", c.HSM.Type)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("ratelimit.requests_per_minute must be positive when enabled")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}
	if c.Audit.Buffer < 0 {
		return fmt.Errorf("audit.buffer must not be negative: %d", c.Audit.Buffer)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ManagerOptions translates the lifecycle section into manager options.
func (c *Config) ManagerOptions() []lifecycle.Option {
	opts := []lifecycle.Option{
		lifecycle.WithMaxKeysPerUser(c.Lifecycle.MaxKeysPerUser),
		lifecycle.WithRotationInterval(c.Lifecycle.RotationInterval),
		lifecycle.WithKeyLifetime(c.Lifecycle.KeyLifetime),
		lifecycle.WithWorkers(c.Lifecycle.Workers),
	}
	if c.HSM.Timeout > 0 {
		opts = append(opts, lifecycle.WithHSMTimeout(c.HSM.Timeout))
	}
	if c.Lifecycle.LockMemory {
		opts = append(opts, lifecycle.WithSecretOptions(secmem.WithMemoryLock()))
	}
	return opts
}
