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
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NewRootCommand builds the pqkeyd command tree. Each call returns an
// independent tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PQKEYS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "pqkeyd",
		Short: "Post-quantum key lifecycle daemon",
		Long: `pqkeyd manages ML-KEM-768 and ML-DSA-65 key material for many users:
generation, rotation, revocation, expiry and cleanup, with an operational
HTTP surface for health, metrics and statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (YAML)")
	pf.String("env-file", "", "dotenv file with PQKEYS_* settings; the real environment wins")
	pf.StringP("output", "o", "text", "output format (text, json, yaml, table)")
	pf.String("log-level", "", "log level override (debug, info, warn, error)")
	pf.String("log-format", "", "log format override (json, text)")
	pf.String("provider", "", "crypto provider override (circl, liboqs)")
	bindFlags(v, pf, "config", "env-file", "output", "log-level", "log-format", "provider")

	rootCmd.AddCommand(
		newServeCommand(v),
		newSelfTestCommand(v),
		newAlgorithmsCommand(v),
		newVersionCommand(v),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		handleError(cmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}
}

// handleError prints an error in the requested output format.
func handleError(w io.Writer, err error) {
	printer := NewPrinter(os.Getenv("PQKEYS_OUTPUT"), w)
	if printer.Validate() != nil {
		printer = NewPrinter(string(OutputFormatText), w)
	}
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
}

func printerFor(cmd *cobra.Command, v *viper.Viper) (*Printer, error) {
	p := NewPrinter(v.GetString("output"), cmd.OutOrStdout())
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
