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
	"github.com/jeremyhahn/go-pqkeys/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the key lifecycle daemon",
		Long: `Run the key manager with its background sweeper and serve the
operational HTTP endpoints (/healthz, /readyz, /metrics, /v1/...) until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			return srv.Run(server.SetupSignalHandler(), nil)
		},
	}
	cmd.Flags().String("host", "", "listen host override")
	cmd.Flags().Int("port", 0, "listen port override")
	bindFlags(v, cmd.Flags(), "host", "port")
	return cmd
}
