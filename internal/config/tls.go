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
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var tlsVersions = map[string]uint16{
	"":       tls.VersionTLS12,
	"tls1.2": tls.VersionTLS12,
	"tls1.3": tls.VersionTLS13,
}

var clientAuthModes = map[string]tls.ClientAuthType{
	"":                   tls.NoClientCert,
	"none":               tls.NoClientCert,
	"request":            tls.RequestClientCert,
	"require":            tls.RequireAnyClientCert,
	"verify":             tls.VerifyClientCertIfGiven,
	"require_and_verify": tls.RequireAndVerifyClientCert,
}

// TLSConfig controls TLS on the operational listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile verifies client certificates when ClientAuth asks for them.
	CAFile string `yaml:"ca_file"`
	// ClientAuth is one of none, request, require, verify or
	// require_and_verify.
	ClientAuth string `yaml:"client_auth"`
	// MinVersion is TLS1.2 or TLS1.3.
	MinVersion string `yaml:"min_version"`
}

// Validate checks the TLS settings without touching the filesystem.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.CertFile == "" {
		errs = append(errs, errors.New("TLS cert_file is required when TLS is enabled"))
	}
	if c.KeyFile == "" {
		errs = append(errs, errors.New("TLS key_file is required when TLS is enabled"))
	}
	if _, ok := tlsVersions[strings.ToLower(c.MinVersion)]; !ok {
		errs = append(errs, fmt.Errorf("TLS min_version %q is not supported", c.MinVersion))
	}
	if _, ok := clientAuthModes[strings.ToLower(c.ClientAuth)]; !ok {
		errs = append(errs, fmt.Errorf("TLS client_auth %q is not supported", c.ClientAuth))
	}
	return errors.Join(errs...)
}

// LoadTLSConfig builds a tls.Config. It returns nil when TLS is disabled.
func (c *TLSConfig) LoadTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	// #nosec G402 - MinVersion is at least TLS 1.2
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tlsVersions[strings.ToLower(c.MinVersion)],
		ClientAuth:   clientAuthModes[strings.ToLower(c.ClientAuth)],
	}
	if out.ClientAuth != tls.NoClientCert && c.CAFile != "" {
		if out.ClientCAs, err = readCertPool(c.CAFile); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readCertPool(path string) (*x509.CertPool, error) {
	// #nosec G304 - CA path comes from operator configuration
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
