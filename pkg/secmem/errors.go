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

// Package secmem provides secret byte buffers with deterministic zeroing.
//
// A SecretBuffer owns a fixed capacity allocation. Release overwrites the
// full capacity, not only the logical length, before the memory is handed
// back to its allocator, so stale bytes from a longer previous payload can
// never survive a free. Buffers have exactly one owner; ownership moves into
// an Arena with Adopt, which leaves the source buffer empty.
package secmem

import "errors"

var (
	// ErrInvalidSize indicates a zero or negative size or an empty region.
	ErrInvalidSize = errors.New("secmem: invalid size")
	// ErrAllocationFailed indicates the allocator could not provide memory.
	ErrAllocationFailed = errors.New("secmem: allocation failed")
	// ErrBufferTooSmall indicates a write larger than the buffer capacity.
	ErrBufferTooSmall = errors.New("secmem: buffer too small")
	// ErrNullPointer indicates a nil region where data was required.
	ErrNullPointer = errors.New("secmem: null pointer")
	// ErrReleased indicates use of a buffer after Release.
	ErrReleased = errors.New("secmem: buffer released")
	// ErrUnknownHandle indicates a handle that is not live in the arena.
	ErrUnknownHandle = errors.New("secmem: unknown handle")
)

// CheckRegion validates a caller supplied region. A nil slice is reported as
// ErrNullPointer and an empty one as ErrInvalidSize.
func CheckRegion(p []byte) error {
	if p == nil {
		return ErrNullPointer
	}
	if len(p) == 0 {
		return ErrInvalidSize
	}
	return nil
}
