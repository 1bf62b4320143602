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

// Package interop implements the call surface exposed to a host process
// over a native boundary. Every entry point validates its raw buffers
// before touching the crypto provider, converts failures into a small
// integer Status plus a retrievable message, and never panics.
//
// Output buffers live in an Arena and are named by opaque handles. The host
// owns a handle from the moment it is returned until it hands it back to
// FreeBuffer, FreeKeypair or FreeEncapsulation; freeing a handle twice
// reports InvalidInput instead of freeing memory twice.
package interop

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// Status is the stable result code of a boundary call.
type Status int32

const (
	StatusSuccess                     Status = 0
	StatusInvalidInput                Status = -1
	StatusAllocationFailed            Status = -2
	StatusCryptoError                 Status = -3
	StatusBufferTooSmall              Status = -4
	StatusNullPointer                 Status = -5
	StatusInvalidKeyFormat            Status = -6
	StatusSignatureVerificationFailed Status = -7
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusInvalidInput:
		return "InvalidInput"
	case StatusAllocationFailed:
		return "AllocationFailed"
	case StatusCryptoError:
		return "CryptoError"
	case StatusBufferTooSmall:
		return "BufferTooSmall"
	case StatusNullPointer:
		return "NullPointer"
	case StatusInvalidKeyFormat:
		return "InvalidKeyFormat"
	case StatusSignatureVerificationFailed:
		return "SignatureVerificationFailed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// StatusOf maps an error onto the boundary status code. nil maps to
// StatusSuccess.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, secmem.ErrNullPointer):
		return StatusNullPointer
	case errors.Is(err, secmem.ErrInvalidSize), errors.Is(err, secmem.ErrUnknownHandle), errors.Is(err, secmem.ErrReleased):
		return StatusInvalidInput
	case errors.Is(err, secmem.ErrAllocationFailed):
		return StatusAllocationFailed
	case errors.Is(err, secmem.ErrBufferTooSmall):
		return StatusBufferTooSmall
	}

	switch cryptoerr.KindOf(err) {
	case cryptoerr.KindMemoryAllocation:
		return StatusAllocationFailed
	case cryptoerr.KindInvalidKeyFormat, cryptoerr.KindInvalidCiphertext:
		return StatusInvalidKeyFormat
	case cryptoerr.KindSignatureVerification:
		return StatusSignatureVerificationFailed
	case cryptoerr.KindInvalidSignature, cryptoerr.KindUnsupportedAlgorithm,
		cryptoerr.KindKeyNotFound, cryptoerr.KindInvalidKeyState, cryptoerr.KindRateLimit:
		return StatusInvalidInput
	default:
		return StatusCryptoError
	}
}
