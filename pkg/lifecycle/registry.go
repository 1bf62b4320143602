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
	"sync"
	"time"
)

type entry struct {
	pair *KeyPair
	meta KeyMetadata
}

// Registry maps key ids to key material and metadata, and user ids to the
// ordered list of keys they own.
//
// Inserts add to the main map before the user index and removals go in the
// reverse order, so the user index never names a key that is not in the
// main map. The Manager holds mu across compound mutations; the exported
// methods here take the read lock themselves.
type Registry struct {
	mu    sync.RWMutex
	keys  map[string]*entry
	users map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		keys:  make(map[string]*entry),
		users: make(map[string][]string),
	}
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Get returns a copy of the metadata for keyID.
func (r *Registry) Get(keyID string) (KeyMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[keyID]
	if !ok {
		return KeyMetadata{}, false
	}
	return e.meta.clone(), true
}

// UserKeyIDs returns the key ids owned by userID in insertion order.
func (r *Registry) UserKeyIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.users[userID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Users returns the number of users that own at least one key.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Consistent reports whether the main map and the user index agree. It is
// used by tests and the statistics endpoint.
func (r *Registry) Consistent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	indexed := 0
	for userID, ids := range r.users {
		for _, id := range ids {
			e, ok := r.keys[id]
			if !ok || e.meta.UserID != userID {
				return false
			}
			indexed++
		}
	}
	return indexed == len(r.keys)
}

// The helpers below require r.mu to be held for writing.

func (r *Registry) insertLocked(e *entry) {
	r.keys[e.meta.KeyID] = e
	r.users[e.meta.UserID] = append(r.users[e.meta.UserID], e.meta.KeyID)
}

func (r *Registry) removeLocked(keyID string) *entry {
	e, ok := r.keys[keyID]
	if !ok {
		return nil
	}
	userID := e.meta.UserID
	ids := r.users[userID]
	for i, id := range ids {
		if id == keyID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.users, userID)
	} else {
		r.users[userID] = ids
	}
	delete(r.keys, keyID)
	return e
}

// liveCountLocked counts the active and pending keys of userID. Requires at
// least the read lock.
func (r *Registry) liveCountLocked(userID string) int {
	n := 0
	for _, id := range r.users[userID] {
		if e := r.keys[id]; e != nil && (e.meta.Status == StatusActive || e.meta.Status == StatusPending) {
			n++
		}
	}
	return n
}

// firstUsableLocked returns the first usable key of userID accepted by match, in index
// order. Requires at least the read lock.
func (r *Registry) firstUsableLocked(userID string, match func(*KeyMetadata) bool, now time.Time) *entry {
	for _, id := range r.users[userID] {
		e := r.keys[id]
		if e != nil && e.meta.usable(now) && match(&e.meta) {
			return e
		}
	}
	return nil
}
