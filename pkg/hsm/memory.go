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

package hsm

import (
	"context"
	"sync"
)

// MemoryStore keeps references in process memory. It stands in for an HSM
// in tests and single node deployments.
type MemoryStore struct {
	provider string
	slot     string

	mu      sync.RWMutex
	records map[string]StoreRequest
}

// NewMemoryStore returns an empty store. An empty slot defaults to "0".
func NewMemoryStore(provider, slot string) *MemoryStore {
	if provider == "" {
		provider = "memory"
	}
	if slot == "" {
		slot = "0"
	}
	return &MemoryStore{provider: provider, slot: slot, records: make(map[string]StoreRequest)}
}

func (s *MemoryStore) Name() string { return s.provider }

func (s *MemoryStore) Store(ctx context.Context, req StoreRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", hsmError(err, "store", req.KeyID)
	}
	ref := Reference{Provider: s.provider, Slot: s.slot, KeyID: req.KeyID}.String()
	rec := req
	rec.PublicKey = append([]byte(nil), req.PublicKey...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ref] = rec
	return ref, nil
}

func (s *MemoryStore) Remove(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return hsmError(err, "remove", "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[reference]; !ok {
		return hsmError(ErrReferenceNotFound, "remove", "")
	}
	delete(s.records, reference)
	return nil
}

// Lookup returns the record stored under reference.
func (s *MemoryStore) Lookup(reference string) (StoreRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[reference]
	if !ok {
		return StoreRequest{}, false
	}
	rec.PublicKey = append([]byte(nil), rec.PublicKey...)
	return rec, true
}

// Len returns the number of stored references.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
