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
	"sync"
)

// Handle identifies a buffer owned by an Arena. The zero Handle is never
// issued.
type Handle uint64

// Arena owns secret buffers on behalf of a caller that can only hold opaque
// handles, such as a host process across a native boundary. Every handle is
// valid until its first Release; later releases report ErrUnknownHandle
// instead of freeing twice.
type Arena struct {
	mu   sync.Mutex
	next Handle
	bufs map[Handle]*SecretBuffer
	opts []Option
}

// NewArena returns an empty arena. opts apply to buffers it allocates.
func NewArena(opts ...Option) *Arena {
	return &Arena{bufs: make(map[Handle]*SecretBuffer), opts: opts}
}

func (a *Arena) insert(b *SecretBuffer) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.bufs[a.next] = b
	return a.next
}

func (a *Arena) get(h Handle) (*SecretBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return b, nil
}

// Allocate creates a zeroed buffer of the given capacity.
func (a *Arena) Allocate(size int) (Handle, error) {
	b, err := New(size, a.opts...)
	if err != nil {
		return 0, err
	}
	return a.insert(b), nil
}

// Adopt moves ownership of buf into the arena. buf is left empty and
// released; the returned handle now owns the bytes.
func (a *Arena) Adopt(buf *SecretBuffer) (Handle, error) {
	if buf == nil {
		return 0, ErrNullPointer
	}
	moved, err := buf.move()
	if err != nil {
		return 0, err
	}
	return a.insert(moved), nil
}

// Seal copies data into a new arena buffer and wipes the source.
func (a *Arena) Seal(data []byte) (Handle, error) {
	b, err := Seal(data, a.opts...)
	if err != nil {
		return 0, err
	}
	return a.insert(b), nil
}

// Write replaces the contents of the buffer behind h.
func (a *Arena) Write(h Handle, p []byte) error {
	b, err := a.get(h)
	if err != nil {
		return err
	}
	return b.Write(p)
}

// Bytes returns the live contents behind h. The slice aliases arena memory
// and is valid until h is released.
func (a *Arena) Bytes(h Handle) ([]byte, error) {
	b, err := a.get(h)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Len returns the live length behind h.
func (a *Arena) Len(h Handle) (int, error) {
	b, err := a.get(h)
	if err != nil {
		return 0, err
	}
	return b.Len(), nil
}

// Release zeroes and frees the buffer behind h.
func (a *Arena) Release(h Handle) error {
	a.mu.Lock()
	b, ok := a.bufs[h]
	delete(a.bufs, h)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	b.Release()
	return nil
}

// Outstanding returns the number of live handles.
func (a *Arena) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bufs)
}

// ReleaseAll releases every live buffer.
func (a *Arena) ReleaseAll() {
	a.mu.Lock()
	bufs := a.bufs
	a.bufs = make(map[Handle]*SecretBuffer)
	a.mu.Unlock()
	for _, b := range bufs {
		b.Release()
	}
}
