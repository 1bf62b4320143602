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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(strings.ToLower(format)),
		writer: writer,
	}
}

// Validate rejects unknown output formats.
func (p *Printer) Validate() error {
	switch p.format {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML, OutputFormatTable:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintVersion prints build information
func (p *Printer) PrintVersion(info VersionInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatYAML:
		return p.printYAML(info)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "pqkeyd version %s\n", info.Version)
		fmt.Fprintf(p.writer, "Git commit: %s\n", info.Commit)
		fmt.Fprintf(p.writer, "Build date: %s\n", info.BuildDate)
		fmt.Fprintf(p.writer, "Go version: %s\n", info.GoVersion)
		fmt.Fprintf(p.writer, "OS/Arch: %s/%s\n", info.OS, info.Arch)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSelfTest prints the lengths observed by a provider self test
func (p *Printer) PrintSelfTest(report *pqc.SelfTestReport) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(report)
	case OutputFormatYAML:
		return p.printYAML(report)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Provider %s: self test passed\n", report.Provider)
		names := make([]string, 0, len(report.Sizes))
		for name := range report.Sizes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(p.writer, "  %-12s %s\n", name, formatSizes(report.Sizes[name]))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAlgorithms prints the supported algorithm table
func (p *Printer) PrintAlgorithms(provider string, rows []AlgorithmInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"provider":   provider,
			"algorithms": rows,
		})
	case OutputFormatYAML:
		return p.printYAML(map[string]interface{}{
			"provider":   provider,
			"algorithms": rows,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-12s %-10s %-6s %-8s %-8s %-10s %-8s %-9s\n",
			"ALGORITHM", "KIND", "LEVEL", "PUBLIC", "SECRET", "CIPHERTEXT", "SHARED", "SIGNATURE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 80))
		for _, r := range rows {
			fmt.Fprintf(p.writer, "%-12s %-10s %-6d %-8d %-8d %-10d %-8d %-9d\n",
				r.Name, r.Kind, r.SecurityLevel, r.Sizes.PublicKey, r.Sizes.SecretKey,
				r.Sizes.Ciphertext, r.Sizes.SharedSecret, r.Sizes.Signature)
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Algorithms (%s):\n", provider)
		for _, r := range rows {
			fmt.Fprintf(p.writer, "  - %s (%s, level %d): %s\n", r.Name, r.Kind, r.SecurityLevel, formatSizes(r.Sizes))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatYAML:
		return p.printYAML(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message. Crypto errors carry their code.
func (p *Printer) PrintError(err error) error {
	code := cryptoerr.As(err).Code()
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"code":   code,
			"error":  err.Error(),
		})
	case OutputFormatYAML:
		return p.printYAML(map[string]interface{}{
			"status": "error",
			"code":   code,
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func formatSizes(s pqc.Sizes) string {
	parts := []string{
		fmt.Sprintf("public=%d", s.PublicKey),
		fmt.Sprintf("secret=%d", s.SecretKey),
	}
	if s.Ciphertext > 0 {
		parts = append(parts, fmt.Sprintf("ciphertext=%d", s.Ciphertext))
	}
	if s.SharedSecret > 0 {
		parts = append(parts, fmt.Sprintf("shared=%d", s.SharedSecret))
	}
	if s.Signature > 0 {
		parts = append(parts, fmt.Sprintf("signature=%d", s.Signature))
	}
	return strings.Join(parts, " ")
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML prints data as YAML
func (p *Printer) printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(p.writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}
