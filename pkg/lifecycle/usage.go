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
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// Sign signs message with the ML-DSA-65 key keyID and records the use.
// Rotating keys may still sign; revoked keys return a KeyRevoked error,
// which is Critical and raises a security event.
func (m *Manager) Sign(keyID string, message []byte) ([]byte, error) {
	start := time.Now()
	secret, alg, err := m.useKey(keyID, metrics.OpSign, pqc.Algorithm.IsSignature)
	if err != nil {
		m.opts.metrics.RecordOperation(metrics.OpSign, alg.String(), start, err)
		return nil, m.fail(metrics.OpSign, err)
	}
	defer secret.Release()

	sig, err := m.provider.Sign(secret.Bytes(), message)
	m.opts.metrics.RecordOperation(metrics.OpSign, alg.String(), start, err)
	if err != nil {
		return nil, m.fail(metrics.OpSign, cryptoerr.As(err).WithKey(keyID))
	}
	return sig, nil
}

// Decapsulate recovers a shared secret with the ML-KEM-768 key keyID and
// records the use.
func (m *Manager) Decapsulate(keyID string, ciphertext []byte) ([]byte, error) {
	start := time.Now()
	secret, alg, err := m.useKey(keyID, metrics.OpDecapsulate, pqc.Algorithm.IsKEM)
	if err != nil {
		m.opts.metrics.RecordOperation(metrics.OpDecapsulate, alg.String(), start, err)
		return nil, m.fail(metrics.OpDecapsulate, err)
	}
	defer secret.Release()

	shared, err := m.provider.Decapsulate(secret.Bytes(), ciphertext)
	m.opts.metrics.RecordOperation(metrics.OpDecapsulate, alg.String(), start, err)
	if err != nil {
		return nil, m.fail(metrics.OpDecapsulate, cryptoerr.As(err).WithKey(keyID))
	}
	return shared, nil
}

// useKey checks that keyID may be used for op, stamps LastUsed and returns
// a copy of its private key that the caller must release.
func (m *Manager) useKey(keyID, op string, accepts func(pqc.Algorithm) bool) (*secmem.SecretBuffer, pqc.Algorithm, error) {
	now := m.opts.now()

	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	e, ok := m.registry.keys[keyID]
	if !ok {
		return nil, 0, notFound(keyID)
	}
	meta := &e.meta
	switch {
	case meta.Status == StatusRevoked:
		return nil, meta.Algorithm, cryptoerr.New(cryptoerr.KindKeyRevoked,
			"attempt to %s with a revoked key", op).WithKey(keyID).WithUser(meta.UserID)
	case meta.Status == StatusExpired || meta.IsExpired(now):
		return nil, meta.Algorithm, cryptoerr.New(cryptoerr.KindKeyExpired,
			"key expired").WithKey(keyID).WithUser(meta.UserID)
	case meta.Status == StatusPending:
		return nil, meta.Algorithm, invalidState(keyID, meta.Status, op)
	case !accepts(meta.Algorithm):
		return nil, meta.Algorithm, cryptoerr.New(cryptoerr.KindInvalidKeyFormat,
			"%s key cannot be used to %s", meta.Algorithm, op).WithKey(keyID)
	}

	secret, err := e.pair.private.Clone()
	if err != nil {
		return nil, meta.Algorithm, cryptoerr.Wrap(cryptoerr.KindMemoryAllocation, err, "copy key material").WithKey(keyID)
	}
	meta.LastUsed = &now
	return secret, meta.Algorithm, nil
}

// TouchKey records a use of keyID at the current time.
func (m *Manager) TouchKey(keyID string) error {
	now := m.opts.now()
	m.registry.mu.Lock()
	e, ok := m.registry.keys[keyID]
	if ok {
		e.meta.LastUsed = &now
	}
	m.registry.mu.Unlock()
	if !ok {
		return m.fail("touch", notFound(keyID))
	}
	return nil
}

// GetKey returns the metadata of keyID.
func (m *Manager) GetKey(keyID string) (KeyMetadata, error) {
	meta, ok := m.registry.Get(keyID)
	if !ok {
		return KeyMetadata{}, m.fail("get_key", notFound(keyID))
	}
	return meta, nil
}

// GetPublicKey returns a copy of the public key of keyID. Revoked keys keep
// their public half.
func (m *Manager) GetPublicKey(keyID string) ([]byte, pqc.Algorithm, error) {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()
	e, ok := m.registry.keys[keyID]
	if !ok {
		return nil, 0, m.fail("get_key", notFound(keyID))
	}
	out := make([]byte, len(e.pair.PublicKey))
	copy(out, e.pair.PublicKey)
	return out, e.meta.Algorithm, nil
}

// KeyCount returns the number of registered keys in any status.
func (m *Manager) KeyCount() int {
	return m.registry.Len()
}

// UserKeys returns the metadata of every key owned by userID in creation
// order.
func (m *Manager) UserKeys(userID string) []KeyMetadata {
	return m.userKeys(userID, func(*KeyMetadata) bool { return true })
}

// ActiveKeysForUser returns the user's Active, unexpired keys.
func (m *Manager) ActiveKeysForUser(userID string) []KeyMetadata {
	now := m.opts.now()
	return m.userKeys(userID, func(md *KeyMetadata) bool { return md.usable(now) })
}

func (m *Manager) userKeys(userID string, keep func(*KeyMetadata) bool) []KeyMetadata {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()

	out := make([]KeyMetadata, 0, len(m.registry.users[userID]))
	for _, id := range m.registry.users[userID] {
		if e := m.registry.keys[id]; e != nil && keep(&e.meta) {
			out = append(out, e.meta.clone())
		}
	}
	return out
}

// AllKeys returns the metadata of every key ordered by creation time.
func (m *Manager) AllKeys() []KeyMetadata {
	m.registry.mu.RLock()
	out := make([]KeyMetadata, 0, len(m.registry.keys))
	for _, e := range m.registry.keys {
		out = append(out, e.meta.clone())
	}
	m.registry.mu.RUnlock()

	sortByCreation(out)
	return out
}
