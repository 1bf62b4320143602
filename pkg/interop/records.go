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

package interop

import (
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// Handle names a buffer owned by the boundary's arena.
type Handle = secmem.Handle

// KeyPairHandle is the fixed layout record returned by GenerateKeypair.
type KeyPairHandle struct {
	PublicKey    Handle
	PublicKeyLen int
	SecretKey    Handle
	SecretKeyLen int
	Algorithm    pqc.Algorithm
}

// EncapsulationOut is the fixed layout record returned by Encapsulate.
type EncapsulationOut struct {
	SharedSecret    Handle
	SharedSecretLen int
	Ciphertext      Handle
	CiphertextLen   int
}
