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

package main

import (
	"sync"

	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// handleTable maps addresses handed to the host back to arena handles and
// tracks the key pair records and error strings the host owns.
type handleTable struct {
	mu      sync.Mutex
	buffers map[uintptr]secmem.Handle
	records map[uintptr]struct{}
	strings map[uintptr]struct{}
}

func newHandleTable() *handleTable {
	return &handleTable{
		buffers: make(map[uintptr]secmem.Handle),
		records: make(map[uintptr]struct{}),
		strings: make(map[uintptr]struct{}),
	}
}

func (t *handleTable) put(addr uintptr, h secmem.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffers[addr] = h
}

func (t *handleTable) lookup(addr uintptr) (secmem.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.buffers[addr]
	return h, ok
}

// take removes addr and returns its handle. Unknown addresses return the
// zero handle, which the arena rejects.
func (t *handleTable) take(addr uintptr) (secmem.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.buffers[addr]
	delete(t.buffers, addr)
	return h, ok
}

func (t *handleTable) addRecord(addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[addr] = struct{}{}
}

// takeRecord reports whether addr was a live record and forgets it.
func (t *handleTable) takeRecord(addr uintptr) bool {
	return t.takeFrom(t.records, addr)
}

func (t *handleTable) addString(addr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strings[addr] = struct{}{}
}

// takeString reports whether addr was a live error string and forgets it.
func (t *handleTable) takeString(addr uintptr) bool {
	return t.takeFrom(t.strings, addr)
}

func (t *handleTable) takeFrom(set map[uintptr]struct{}, addr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := set[addr]; !ok {
		return false
	}
	delete(set, addr)
	return true
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers)
}
