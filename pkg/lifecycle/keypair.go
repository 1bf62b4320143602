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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

const redacted = "[REDACTED]"

// KeyPair holds a public key and its secret counterpart. The secret is kept
// in a SecretBuffer and never appears in formatted or serialized output.
type KeyPair struct {
	PublicKey     []byte
	Algorithm     pqc.Algorithm
	KeySize       int
	SecurityLevel int
	CreatedAt     time.Time

	private *secmem.SecretBuffer
}

func newKeyPair(alg pqc.Algorithm, public []byte, private *secmem.SecretBuffer, keySize int, created time.Time) *KeyPair {
	return &KeyPair{
		PublicKey:     public,
		Algorithm:     alg,
		KeySize:       keySize,
		SecurityLevel: pqc.SecurityLevel,
		CreatedAt:     created,
		private:       private,
	}
}

// PrivateKey returns the secret key bytes. The slice aliases protected
// memory and is valid only until Release.
func (kp *KeyPair) PrivateKey() []byte {
	if kp.private == nil {
		return nil
	}
	return kp.private.Bytes()
}

// Released reports whether the secret key has been wiped.
func (kp *KeyPair) Released() bool {
	return kp.private == nil || kp.private.Released()
}

// Clone returns a copy whose secret lives in a new SecretBuffer.
func (kp *KeyPair) Clone() (*KeyPair, error) {
	if kp.private == nil {
		return nil, secmem.ErrReleased
	}
	private, err := kp.private.Clone()
	if err != nil {
		return nil, err
	}
	public := make([]byte, len(kp.PublicKey))
	copy(public, kp.PublicKey)
	return newKeyPair(kp.Algorithm, public, private, kp.KeySize, kp.CreatedAt), nil
}

// Release zeroes the secret key. It is safe to call more than once.
func (kp *KeyPair) Release() {
	if kp.private != nil {
		kp.private.Release()
	}
}

func (kp *KeyPair) String() string {
	return fmt.Sprintf("KeyPair{Algorithm: %s, PublicKey: %d bytes, PrivateKey: %s, KeySize: %d, SecurityLevel: %d, CreatedAt: %s}",
		kp.Algorithm, len(kp.PublicKey), redacted, kp.KeySize, kp.SecurityLevel, kp.CreatedAt.Format(time.RFC3339))
}

func (kp *KeyPair) GoString() string { return kp.String() }

// Format routes every verb through String so %v, %+v and %#v stay redacted.
func (kp *KeyPair) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(kp.String()))
}

// MarshalJSON emits the public half and a redaction marker.
func (kp *KeyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Algorithm     pqc.Algorithm `json:"algorithm"`
		PublicKey     []byte        `json:"public_key"`
		PrivateKey    string        `json:"private_key"`
		KeySize       int           `json:"key_size"`
		SecurityLevel int           `json:"security_level"`
		CreatedAt     time.Time     `json:"created_at"`
		Fingerprint   string        `json:"fingerprint"`
	}{
		Algorithm:     kp.Algorithm,
		PublicKey:     kp.PublicKey,
		PrivateKey:    redacted,
		KeySize:       kp.KeySize,
		SecurityLevel: kp.SecurityLevel,
		CreatedAt:     kp.CreatedAt,
		Fingerprint:   pqc.Fingerprint(kp.PublicKey),
	})
}
