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
	"fmt"

	"github.com/jeremyhahn/go-pqkeys/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// loadConfig loads the daemon configuration named by --config and applies
// the flag and PQKEYS_* overrides bound in v. Variables from --env-file are
// exported first so they take part in the environment overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	if path := v.GetString("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if provider := v.GetString("provider"); provider != "" {
		cfg.Provider = provider
	}
	if host := v.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := v.GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
