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

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pqkeyd version dev")

	out, err = run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)

	out, err = run(t, "version", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "version: dev")
}

func TestOutputFromEnvironment(t *testing.T) {
	t.Setenv("PQKEYS_OUTPUT", "json")
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)), out)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, "version", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestSelfTestCommand(t *testing.T) {
	out, err := run(t, "selftest", "-o", "json")
	require.NoError(t, err)

	var report pqc.SelfTestReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "circl", report.Provider)
	assert.Equal(t, 1184, report.Sizes["ML-KEM-768"].PublicKey)
	assert.Equal(t, 1088, report.Sizes["ML-KEM-768"].Ciphertext)
	assert.Equal(t, 1952, report.Sizes["ML-DSA-65"].PublicKey)

	out, err = run(t, "selftest")
	require.NoError(t, err)
	assert.Contains(t, out, "self test passed")
}

func TestSelfTestUnknownProvider(t *testing.T) {
	_, err := run(t, "selftest", "--provider", "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cryptoerr.ErrHardwareUnavailable))
}

func TestAlgorithmsCommand(t *testing.T) {
	out, err := run(t, "algorithms", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "ML-KEM-768")
	assert.Contains(t, out, "ML-DSA-65")
	assert.Contains(t, out, "1184")

	out, err = run(t, "algorithms", "-o", "json")
	require.NoError(t, err)
	var body struct {
		Provider   string          `json:"provider"`
		Algorithms []AlgorithmInfo `json:"algorithms"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Algorithms, 2)
	assert.Equal(t, "kem", body.Algorithms[0].Kind)
	assert.Equal(t, "signature", body.Algorithms[1].Kind)
	assert.Equal(t, 3, body.Algorithms[1].SecurityLevel)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pqkeys.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\nserver:\n  port: 7000\n"), 0o600))

	v := viper.New()
	v.Set("config", path)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7000, cfg.Server.Port)

	v.Set("log-level", "debug")
	v.Set("port", 7100)
	v.Set("host", "0.0.0.0")
	cfg, err = loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:7100", cfg.Server.Addr())

	v.Set("log-format", "xml")
	_, err = loadConfig(v)
	assert.ErrorContains(t, err, "invalid log format")
}

func TestLoadConfigEnvFile(t *testing.T) {
	// Register restoration of the unset state before godotenv exports it.
	t.Setenv("PQKEYS_WORKERS", "")
	require.NoError(t, os.Unsetenv("PQKEYS_WORKERS"))

	path := filepath.Join(t.TempDir(), "pqkeys.env")
	require.NoError(t, os.WriteFile(path, []byte("PQKEYS_WORKERS=3\n"), 0o600))

	v := viper.New()
	v.Set("env-file", path)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Lifecycle.Workers)

	v.Set("env-file", filepath.Join(t.TempDir(), "missing.env"))
	_, err = loadConfig(v)
	assert.ErrorContains(t, err, "failed to load env file")
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	err := cryptoerr.New(cryptoerr.KindKeyNotFound, "no key")
	require.NoError(t, NewPrinter("json", &buf).PrintError(err))

	var body map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "CRYPTO_006", body["code"])

	buf.Reset()
	handleError(&buf, err)
	assert.Contains(t, buf.String(), "Error:")
}

func TestPrintSuccess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("YAML", &buf).PrintSuccess("done"))
	assert.Contains(t, buf.String(), "message: done")
	assert.Error(t, NewPrinter("csv", &buf).PrintSuccess("done"))
}
