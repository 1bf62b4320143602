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
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pqkeys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Lifecycle.MaxKeysPerUser)
	assert.Equal(t, 30*24*time.Hour, cfg.Lifecycle.RotationInterval)
	assert.Equal(t, "127.0.0.1:9464", cfg.Server.Addr())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
lifecycle:
  max_keys_per_user: 3
  rotation_interval: 1h
  key_lifetime: 2h
  sweep_interval: 30s
hsm:
  type: vault
  timeout: 2s
  vault:
    address: http://127.0.0.1:8200
    mount_path: secret
logging:
  level: debug
  format: text
server:
  port: 8080
audit:
  file: /var/log/pqkeys/events.jsonl
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Lifecycle.MaxKeysPerUser)
	assert.Equal(t, time.Hour, cfg.Lifecycle.RotationInterval)
	assert.Equal(t, 2*time.Hour, cfg.Lifecycle.KeyLifetime)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.SweepInterval)
	// Unset fields keep their defaults.
	assert.Equal(t, lifecycle.DefaultWorkers, cfg.Lifecycle.Workers)
	assert.Equal(t, "vault", cfg.HSM.Type)
	assert.Equal(t, 2*time.Second, cfg.HSM.Timeout)
	require.NotNil(t, cfg.HSM.Vault)
	assert.Equal(t, "secret", cfg.HSM.Vault.MountPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/var/log/pqkeys/events.jsonl", cfg.Audit.File)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "lifecycle: [not a map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PQKEYS_LOG_LEVEL", "warn")
	t.Setenv("PQKEYS_PORT", "9999")
	t.Setenv("PQKEYS_MAX_KEYS_PER_USER", "4")
	t.Setenv("PQKEYS_KEY_LIFETIME", "48h")
	t.Setenv("PQKEYS_WORKERS", "many")
	t.Setenv("VAULT_TOKEN", "s.token")

	path := writeConfig(t, `
hsm:
  type: vault
  vault:
    address: http://vault:8200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Lifecycle.MaxKeysPerUser)
	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.KeyLifetime)
	assert.Equal(t, lifecycle.DefaultWorkers, cfg.Lifecycle.Workers, "invalid values are ignored")
	assert.Equal(t, "s.token", cfg.HSM.Vault.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max keys", func(c *Config) { c.Lifecycle.MaxKeysPerUser = 0 }, "max_keys_per_user"},
		{"rotation", func(c *Config) { c.Lifecycle.RotationInterval = 0 }, "rotation_interval"},
		{"lifetime", func(c *Config) { c.Lifecycle.KeyLifetime = -time.Second }, "key_lifetime"},
		{"workers", func(c *Config) { c.Lifecycle.Workers = 0 }, "workers"},
		{"provider", func(c *Config) { c.Provider = "openssl" }, "invalid provider"},
		{"hsm type", func(c *Config) { c.HSM.Type = "tpm" }, "invalid hsm type"},
		{"vault", func(c *Config) { c.HSM.Type = "vault" }, "hsm.vault.address"},
		{"pkcs11", func(c *Config) { c.HSM.Type = "pkcs11"; c.HSM.PKCS11 = &hsm.PKCS11Config{} }, "hsm.pkcs11.library"},
		{"ratelimit", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics path"},
		{"tls", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestManagerOptions(t *testing.T) {
	cfg := Default()
	cfg.Lifecycle.MaxKeysPerUser = 1
	cfg.Lifecycle.LockMemory = true

	m, err := lifecycle.NewManager(pqc.NewCirclProvider(), cfg.ManagerOptions()...)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.GenerateKey("alice", pqc.KEM768)
	require.NoError(t, err)
	_, err = m.GenerateKey("alice", pqc.SIG65)
	assert.ErrorIs(t, err, lifecycle.ErrCapacityExceeded)
}

func TestTLSConfig(t *testing.T) {
	disabled := TLSConfig{}
	tlsCfg, err := disabled.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	missing := TLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	_, err = missing.LoadTLSConfig()
	assert.ErrorContains(t, err, "failed to load server certificate")

	assert.Equal(t, uint16(tls.VersionTLS12), tlsVersions[""])
	assert.Equal(t, uint16(tls.VersionTLS13), tlsVersions["tls1.3"])
	assert.Equal(t, tls.RequireAndVerifyClientCert, clientAuthModes["require_and_verify"])

	bad := TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "TLS1.0", ClientAuth: "sometimes"}
	err = bad.Validate()
	assert.ErrorContains(t, err, "min_version")
	assert.ErrorContains(t, err, "client_auth")

	ok := TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "TLS1.3", ClientAuth: "verify"}
	assert.NoError(t, ok.Validate())
}
