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

// Package pqc provides the post-quantum primitives used by go-pqkeys:
// ML-KEM-768 key encapsulation (FIPS 203) and ML-DSA-65 signatures
// (FIPS 204). Callers program against the Provider interface; the
// pure Go circl provider is the default and a liboqs provider is available
// with the quantum build tag.
package pqc

import (
	"strings"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

// Algorithm represents a supported post-quantum algorithm.
type Algorithm int

const (
	// KEM768 is ML-KEM-768 (formerly Kyber768).
	KEM768 Algorithm = 1 + iota
	// SIG65 is ML-DSA-65 (formerly Dilithium3).
	SIG65
)

// SecurityLevel is the NIST security category of both algorithms.
const SecurityLevel = 3

// String returns the standard name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case KEM768:
		return "ML-KEM-768"
	case SIG65:
		return "ML-DSA-65"
	default:
		return "Unknown"
	}
}

// Type returns "kem" or "signature".
func (a Algorithm) Type() string {
	switch a {
	case KEM768:
		return "kem"
	case SIG65:
		return "signature"
	default:
		return "unknown"
	}
}

// IsKEM reports whether a is a key encapsulation mechanism.
func (a Algorithm) IsKEM() bool { return a == KEM768 }

// IsSignature reports whether a is a signature algorithm.
func (a Algorithm) IsSignature() bool { return a == SIG65 }

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool { return a == KEM768 || a == SIG65 }

// MarshalText encodes the algorithm by name.
func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an algorithm name or alias.
func (a *Algorithm) UnmarshalText(text []byte) error {
	alg, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = alg
	return nil
}

var aliases = map[string]Algorithm{
	"ml-kem-768":  KEM768,
	"mlkem768":    KEM768,
	"kem-768":     KEM768,
	"kyber-768":   KEM768,
	"kyber768":    KEM768,
	"ml-dsa-65":   SIG65,
	"mldsa65":     SIG65,
	"sig-65":      SIG65,
	"dilithium-3": SIG65,
	"dilithium3":  SIG65,
}

// ParseAlgorithm resolves a case-insensitive algorithm name or alias.
// Unknown names yield an UnsupportedAlgorithm error.
func ParseAlgorithm(name string) (Algorithm, error) {
	if alg, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return alg, nil
	}
	return 0, cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%q", name)
}

// Algorithms returns every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{KEM768, SIG65}
}
