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
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AlgorithmInfo describes one supported algorithm as reported by a provider.
type AlgorithmInfo struct {
	Name          string    `json:"name" yaml:"name"`
	Kind          string    `json:"kind" yaml:"kind"`
	SecurityLevel int       `json:"security_level" yaml:"security_level"`
	Sizes         pqc.Sizes `json:"sizes" yaml:"sizes"`
}

func newSelfTestCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the provider known-answer round trips",
		Long: `Generate, encapsulate, decapsulate, sign and verify with the configured
provider and report the lengths it produced. Exits non-zero on failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := printerFor(cmd, v)
			if err != nil {
				return err
			}
			provider, err := providerFor(v)
			if err != nil {
				return err
			}
			report, err := pqc.SelfTest(provider)
			if err != nil {
				return err
			}
			return printer.PrintSelfTest(report)
		},
	}
}

func newAlgorithmsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List supported algorithms and their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := printerFor(cmd, v)
			if err != nil {
				return err
			}
			provider, err := providerFor(v)
			if err != nil {
				return err
			}
			var rows []AlgorithmInfo
			for _, alg := range pqc.Algorithms() {
				sizes, err := provider.Sizes(alg)
				if err != nil {
					return err
				}
				kind := "kem"
				if alg.IsSignature() {
					kind = "signature"
				}
				rows = append(rows, AlgorithmInfo{
					Name:          alg.String(),
					Kind:          kind,
					SecurityLevel: pqc.SecurityLevel,
					Sizes:         sizes,
				})
			}
			return printer.PrintAlgorithms(provider.Name(), rows)
		},
	}
}

func providerFor(v *viper.Viper) (pqc.Provider, error) {
	name := v.GetString("provider")
	if name == "" {
		cfg, err := loadConfig(v)
		if err != nil {
			return nil, err
		}
		name = cfg.Provider
	}
	return pqc.NewProvider(name)
}
