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

package pqc

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Sizes holds the byte lengths a provider produces for one algorithm.
// Fields that do not apply to the algorithm are zero. Signature is the
// maximum signature length.
type Sizes struct {
	PublicKey    int `json:"public_key" yaml:"public_key"`
	SecretKey    int `json:"secret_key" yaml:"secret_key"`
	Ciphertext   int `json:"ciphertext,omitempty" yaml:"ciphertext,omitempty"`
	SharedSecret int `json:"shared_secret,omitempty" yaml:"shared_secret,omitempty"`
	Signature    int `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// KeySize is the combined public and secret key length.
func (s Sizes) KeySize() int { return s.PublicKey + s.SecretKey }

// Provider performs the post-quantum primitives. Implementations must be
// safe for concurrent use and must never retain the secret keys they are
// handed.
type Provider interface {
	// Name identifies the implementation.
	Name() string
	// Sizes reports the lengths produced for alg.
	Sizes(alg Algorithm) (Sizes, error)
	// GenerateKeyPair returns a fresh key pair for alg.
	GenerateKeyPair(alg Algorithm) (public, secret []byte, err error)
	// Encapsulate derives a shared secret for an ML-KEM-768 public key.
	Encapsulate(public []byte) (ciphertext, sharedSecret []byte, err error)
	// Decapsulate recovers the shared secret from an ML-KEM-768 ciphertext.
	Decapsulate(secret, ciphertext []byte) (sharedSecret []byte, err error)
	// Sign produces an ML-DSA-65 signature.
	Sign(secret, message []byte) ([]byte, error)
	// Verify checks an ML-DSA-65 signature. A well formed signature that
	// does not verify returns false and a nil error.
	Verify(public, message, signature []byte) (bool, error)
}

// Fingerprint returns a short SHA3-256 digest of a public key for logs and
// events.
func Fingerprint(public []byte) string {
	sum := sha3.Sum256(public)
	return hex.EncodeToString(sum[:8])
}
