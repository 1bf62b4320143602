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

package secmem

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/awnumar/memguard"
)

type options struct {
	alloc Allocator
	hook  func([]byte)
	lock  bool
}

// Option configures a SecretBuffer.
type Option func(*options)

// WithAllocator sets the allocator that provides and reclaims memory.
func WithAllocator(a Allocator) Option {
	return func(o *options) {
		if a != nil {
			o.alloc = a
		}
	}
}

// WithReleaseHook registers fn to observe the full capacity region after it
// has been zeroed and before it is returned to the allocator.
func WithReleaseHook(fn func([]byte)) Option {
	return func(o *options) { o.hook = fn }
}

// WithMemoryLock asks for the buffer pages to be locked in RAM.
func WithMemoryLock() Option {
	return func(o *options) { o.lock = true }
}

func buildOptions(opts []Option) options {
	o := options{alloc: HeapAllocator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SecretBuffer is a fixed capacity region holding secret bytes. Bytes in
// [Len, Cap) are always zero. A SecretBuffer must be released exactly once
// by its owner; Release is idempotent so deferred releases are safe.
type SecretBuffer struct {
	mu       sync.Mutex
	mem      []byte
	n        int
	opts     options
	locked   bool
	released bool
}

// New allocates a zeroed buffer with the given capacity.
func New(size int, opts ...Option) (*SecretBuffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	o := buildOptions(opts)
	mem, err := o.alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}
	if len(mem) != size {
		o.alloc.Free(mem)
		return nil, ErrAllocationFailed
	}
	clear(mem)

	b := &SecretBuffer{mem: mem, opts: o}
	if o.lock {
		b.locked = lockPages(mem)
	}
	runtime.SetFinalizer(b, (*SecretBuffer).Release)
	return b, nil
}

// Seal copies data into a new buffer and wipes the source slice.
func Seal(data []byte, opts ...Option) (*SecretBuffer, error) {
	if err := CheckRegion(data); err != nil {
		return nil, err
	}
	b, err := New(len(data), opts...)
	if err != nil {
		return nil, err
	}
	copy(b.mem, data)
	b.n = len(data)
	memguard.WipeBytes(data)
	return b, nil
}

// Write replaces the contents of the buffer with p. Payloads larger than the
// capacity are rejected, never truncated.
func (b *SecretBuffer) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	if len(p) > len(b.mem) {
		return fmt.Errorf("%w: need %d bytes, capacity %d", ErrBufferTooSmall, len(p), len(b.mem))
	}
	copy(b.mem, p)
	if len(p) < b.n {
		clear(b.mem[len(p):b.n])
	}
	b.n = len(p)
	return nil
}

// Bytes returns the live contents. The slice aliases the buffer and is only
// valid until Release.
func (b *SecretBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	return b.mem[:b.n]
}

// Len returns the number of live bytes.
func (b *SecretBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the allocated capacity.
func (b *SecretBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mem)
}

// Released reports whether the buffer has been released or moved.
func (b *SecretBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Clone returns an independent copy with the same capacity. The copy shares
// the allocator and locking preference but not the release hook.
func (b *SecretBuffer) Clone() (*SecretBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrReleased
	}
	opts := []Option{WithAllocator(b.opts.alloc)}
	if b.opts.lock {
		opts = append(opts, WithMemoryLock())
	}
	c, err := New(len(b.mem), opts...)
	if err != nil {
		return nil, err
	}
	copy(c.mem, b.mem[:b.n])
	c.n = b.n
	return c, nil
}

// Release zeroes the full capacity and returns the memory to the allocator.
func (b *SecretBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	memguard.WipeBytes(b.mem)
	if b.locked {
		unlockPages(b.mem)
	}
	if b.opts.hook != nil {
		b.opts.hook(b.mem)
	}
	b.opts.alloc.Free(b.mem)
	b.mem = nil
	b.n = 0
	b.released = true
	runtime.SetFinalizer(b, nil)
}

// move transfers the allocation into a new SecretBuffer and leaves b empty
// and released without wiping the moved bytes.
func (b *SecretBuffer) move() (*SecretBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrReleased
	}
	moved := &SecretBuffer{mem: b.mem, n: b.n, opts: b.opts, locked: b.locked}
	b.mem = nil
	b.n = 0
	b.locked = false
	b.released = true
	runtime.SetFinalizer(b, nil)
	runtime.SetFinalizer(moved, (*SecretBuffer).Release)
	return moved, nil
}

// String never reveals the contents.
func (b *SecretBuffer) String() string {
	return fmt.Sprintf("SecretBuffer(len=%d, cap=%d)", b.Len(), b.Cap())
}

// GoString never reveals the contents.
func (b *SecretBuffer) GoString() string { return b.String() }
