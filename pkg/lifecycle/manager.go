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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/logging"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

var (
	// ErrCapacityExceeded is wrapped by the KeyGeneration error returned
	// when a user already holds the maximum number of live keys.
	ErrCapacityExceeded = errors.New("lifecycle: key capacity exceeded")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("lifecycle: manager closed")
)

// RotationResult pairs a rotated key with its successor.
type RotationResult struct {
	OldKeyID string `json:"old_key_id"`
	NewKeyID string `json:"new_key_id"`
}

// Manager applies lifecycle policy to a Registry. All methods are safe for
// concurrent use. Key generation and other provider calls run outside the
// registry lock; every registry mutation is applied under one write lock
// hold and is either fully applied or not applied at all.
type Manager struct {
	provider pqc.Provider
	registry *Registry
	opts     options
	logger   *slog.Logger
	reporter *cryptoerr.Reporter

	// closed is guarded by registry.mu.
	closed bool
}

// NewManager returns a Manager backed by provider.
func NewManager(provider pqc.Provider, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, cryptoerr.New(cryptoerr.KindConfiguration, "crypto provider is required")
	}
	o := buildOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := logging.OrDiscard(o.logger)
	reporter := o.reporter
	if reporter == nil {
		reporter = cryptoerr.NewReporter(
			cryptoerr.WithLogger(logger),
			cryptoerr.WithRecorder(o.metrics),
			cryptoerr.WithSource("lifecycle"))
	}

	return &Manager{
		provider: pqc.Checked(provider),
		registry: NewRegistry(),
		opts:     o,
		logger:   logger,
		reporter: reporter,
	}, nil
}

// Provider returns the provider used for key material.
func (m *Manager) Provider() pqc.Provider { return m.provider }

// Registry exposes the underlying registry for read-only inspection.
func (m *Manager) Registry() *Registry { return m.registry }

// Reporter returns the error reporter in use.
func (m *Manager) Reporter() *cryptoerr.Reporter { return m.reporter }

// GenerateKey creates a key for userID and returns its id. The key is
// Active and expires after the configured key lifetime.
//
// When a reference store is configured and the reference cannot be
// created, the key is still registered as Pending, and both its id and an
// HSM error are returned. A Pending key is never returned as active;
// ActivateKey retries the reference and RevokeKey discards it.
func (m *Manager) GenerateKey(userID string, alg pqc.Algorithm) (string, error) {
	start := time.Now()
	id, err := m.generate(userID, alg)
	m.opts.metrics.RecordOperation(metrics.OpGenerate, alg.String(), start, err)
	return id, m.fail(metrics.OpGenerate, err)
}

// GenerateKeyByName is GenerateKey with the algorithm given by name or
// alias.
func (m *Manager) GenerateKeyByName(userID, algorithm string) (string, error) {
	alg, err := pqc.ParseAlgorithm(algorithm)
	if err != nil {
		return "", m.fail(metrics.OpGenerate, err)
	}
	return m.GenerateKey(userID, alg)
}

func (m *Manager) generate(userID string, alg pqc.Algorithm) (string, error) {
	if userID == "" {
		return "", cryptoerr.New(cryptoerr.KindKeyGeneration, "user id is required")
	}
	if !alg.Valid() {
		return "", cryptoerr.New(cryptoerr.KindUnsupportedAlgorithm, "%s", alg).WithUser(userID)
	}
	if err := m.opts.limiter.Check(userID, metrics.OpGenerate); err != nil {
		return "", err
	}

	m.registry.mu.RLock()
	closed := m.closed
	live := m.registry.liveCountLocked(userID)
	m.registry.mu.RUnlock()
	if closed {
		return "", closedError()
	}
	if live >= m.opts.maxKeysPerUser {
		return "", m.capacityError(userID)
	}

	now := m.opts.now()
	pair, err := m.newKeyPair(alg, now)
	if err != nil {
		return "", cryptoerr.As(err).WithUser(userID)
	}
	meta := m.newMetadata(userID, alg, now, 0)
	herr := m.attachReference(&meta, pair.PublicKey)

	m.registry.mu.Lock()
	if m.closed || m.registry.liveCountLocked(userID) >= m.opts.maxKeysPerUser {
		closed := m.closed
		m.registry.mu.Unlock()
		pair.Release()
		m.discardReference(meta.HSMReference, meta.KeyID)
		if closed {
			return "", closedError()
		}
		return "", m.capacityError(userID)
	}
	m.registry.insertLocked(&entry{pair: pair, meta: meta})
	m.registry.mu.Unlock()

	m.logEvent("key_generated", &meta)
	if herr != nil {
		return meta.KeyID, herr
	}
	return meta.KeyID, nil
}

// RotateKey replaces an Active key. The old key moves to Rotating with its
// material untouched and a new Active key for the same user and algorithm
// is registered with RotationCount one higher. The old key is not revoked.
//
// Against a concurrent RevokeKey of the same key, revoke always wins:
// Rotating keys may still be revoked, and rotate fails with InvalidKeyState
// when the revocation ran first.
func (m *Manager) RotateKey(keyID string) (string, error) {
	start := time.Now()
	newID, alg, err := m.rotate(keyID)
	m.opts.metrics.RecordOperation(metrics.OpRotate, alg.String(), start, err)
	return newID, m.fail(metrics.OpRotate, err)
}

func (m *Manager) rotate(keyID string) (string, pqc.Algorithm, error) {
	m.registry.mu.RLock()
	e, ok := m.registry.keys[keyID]
	var old KeyMetadata
	if ok {
		old = e.meta.clone()
	}
	closed := m.closed
	m.registry.mu.RUnlock()

	switch {
	case closed:
		return "", 0, closedError()
	case !ok:
		return "", 0, notFound(keyID)
	case old.Status != StatusActive:
		return "", old.Algorithm, invalidState(keyID, old.Status, "rotate")
	}

	now := m.opts.now()
	pair, err := m.newKeyPair(old.Algorithm, now)
	if err != nil {
		return "", old.Algorithm, cryptoerr.As(err).WithKey(keyID)
	}
	meta := m.newMetadata(old.UserID, old.Algorithm, now, old.RotationCount+1)
	herr := m.attachReference(&meta, pair.PublicKey)

	m.registry.mu.Lock()
	e, ok = m.registry.keys[keyID]
	if m.closed || !ok || e.meta.Status != StatusActive {
		var err error
		switch {
		case m.closed:
			err = closedError()
		case !ok:
			err = notFound(keyID)
		default:
			err = invalidState(keyID, e.meta.Status, "rotate")
		}
		m.registry.mu.Unlock()
		pair.Release()
		m.discardReference(meta.HSMReference, meta.KeyID)
		return "", old.Algorithm, err
	}
	e.meta.Status = StatusRotating
	m.registry.insertLocked(&entry{pair: pair, meta: meta})
	m.registry.mu.Unlock()

	m.logEvent("key_rotated", &meta,
		slog.String("previous_key_id", keyID),
		slog.Uint64("rotation_count", uint64(meta.RotationCount)))
	if herr != nil {
		return meta.KeyID, old.Algorithm, herr
	}
	return meta.KeyID, old.Algorithm, nil
}

// RevokeKey revokes a key and zeroes its private material. An external
// reference is removed first; a removal failure is reported but does not
// stop the revocation. Revoking a revoked key returns InvalidKeyState.
func (m *Manager) RevokeKey(keyID string) error {
	start := time.Now()
	alg, err := m.revoke(keyID)
	m.opts.metrics.RecordOperation(metrics.OpRevoke, alg.String(), start, err)
	return m.fail(metrics.OpRevoke, err)
}

func (m *Manager) revoke(keyID string) (pqc.Algorithm, error) {
	m.registry.mu.RLock()
	e, ok := m.registry.keys[keyID]
	var meta KeyMetadata
	if ok {
		meta = e.meta.clone()
	}
	m.registry.mu.RUnlock()

	if !ok {
		return 0, notFound(keyID)
	}
	if meta.Status == StatusRevoked {
		return meta.Algorithm, invalidState(keyID, meta.Status, "revoke")
	}

	if meta.HSMReference != "" {
		if err := m.removeReference(meta.HSMReference, keyID); err != nil {
			_ = m.fail(metrics.OpHSMRemove, err)
		}
	}

	m.registry.mu.Lock()
	e, ok = m.registry.keys[keyID]
	if !ok {
		m.registry.mu.Unlock()
		return meta.Algorithm, notFound(keyID)
	}
	if e.meta.Status == StatusRevoked {
		status := e.meta.Status
		m.registry.mu.Unlock()
		return meta.Algorithm, invalidState(keyID, status, "revoke")
	}
	// A reference attached after the removal above still has to go.
	stale := ""
	if ref := e.meta.HSMReference; ref != "" && ref != meta.HSMReference {
		stale = ref
	}
	e.meta.Status = StatusRevoked
	e.meta.HSMReference = ""
	e.pair.Release()
	m.registry.mu.Unlock()

	m.discardReference(stale, keyID)
	m.logEvent("key_revoked", &meta)
	return meta.Algorithm, nil
}

// ExpireKey marks an Active or Rotating key Expired. Its material is kept
// until the next cleanup.
func (m *Manager) ExpireKey(keyID string) error {
	m.registry.mu.Lock()
	e, ok := m.registry.keys[keyID]
	if !ok {
		m.registry.mu.Unlock()
		return m.fail(metrics.OpExpire, notFound(keyID))
	}
	if !e.meta.Status.CanTransition(StatusExpired) {
		status := e.meta.Status
		m.registry.mu.Unlock()
		return m.fail(metrics.OpExpire, invalidState(keyID, status, "expire"))
	}
	e.meta.Status = StatusExpired
	meta := e.meta.clone()
	m.registry.mu.Unlock()

	m.logEvent("key_expired", &meta)
	return nil
}

// ExtendExpiry moves a key's expiry to t. Expiry only moves forward; an
// earlier time, or a revoked key, yields InvalidKeyState.
func (m *Manager) ExtendExpiry(keyID string, t time.Time) error {
	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	e, ok := m.registry.keys[keyID]
	if !ok {
		return m.fail(metrics.OpExpire, notFound(keyID))
	}
	if e.meta.Status == StatusRevoked {
		return m.fail(metrics.OpExpire, invalidState(keyID, e.meta.Status, "extend"))
	}
	if e.meta.ExpiresAt != nil && t.Before(*e.meta.ExpiresAt) {
		return m.fail(metrics.OpExpire, cryptoerr.New(cryptoerr.KindInvalidKeyState,
			"expiry %s is before current expiry %s", t.Format(time.RFC3339), e.meta.ExpiresAt.Format(time.RFC3339)).
			WithKey(keyID))
	}
	e.meta.ExpiresAt = &t
	return nil
}

// ActivateKey promotes a Pending key to Active, creating its external
// reference first when a reference store is configured.
func (m *Manager) ActivateKey(keyID string) error {
	m.registry.mu.RLock()
	e, ok := m.registry.keys[keyID]
	var meta KeyMetadata
	var public []byte
	if ok {
		meta = e.meta.clone()
		public = e.pair.PublicKey
	}
	m.registry.mu.RUnlock()

	if !ok {
		return m.fail(metrics.OpGenerate, notFound(keyID))
	}
	if meta.Status != StatusPending {
		return m.fail(metrics.OpGenerate, invalidState(keyID, meta.Status, "activate"))
	}
	meta.Status = StatusActive
	if err := m.attachReference(&meta, public); err != nil {
		return m.fail(metrics.OpHSMStore, err)
	}

	m.registry.mu.Lock()
	e, ok = m.registry.keys[keyID]
	if !ok || e.meta.Status != StatusPending {
		var err error
		if !ok {
			err = notFound(keyID)
		} else {
			err = invalidState(keyID, e.meta.Status, "activate")
		}
		m.registry.mu.Unlock()
		m.discardReference(meta.HSMReference, keyID)
		return m.fail(metrics.OpGenerate, err)
	}
	e.meta.Status = StatusActive
	e.meta.HSMReference = meta.HSMReference
	m.registry.mu.Unlock()

	m.logEvent("key_activated", &meta)
	return nil
}

// CleanupExpiredKeys removes every key that is Expired by status or by
// time, zeroes its material and releases its external reference. It
// returns the number of keys removed.
func (m *Manager) CleanupExpiredKeys() int {
	start := time.Now()
	now := m.opts.now()

	var removed []*entry
	m.registry.mu.Lock()
	for id, e := range m.registry.keys {
		if e.meta.NeedsCleanup(now) {
			removed = append(removed, m.registry.removeLocked(id))
		}
	}
	for _, e := range removed {
		e.pair.Release()
	}
	m.registry.mu.Unlock()

	for _, e := range removed {
		if ref := e.meta.HSMReference; ref != "" {
			if err := m.removeReference(ref, e.meta.KeyID); err != nil {
				_ = m.fail(metrics.OpHSMRemove, err)
			}
		}
		m.logEvent("key_removed", &e.meta)
	}
	if len(removed) > 0 {
		m.logger.Info("expired keys cleaned up", slog.Int("count", len(removed)))
	}
	m.opts.metrics.RecordOperation(metrics.OpCleanup, "all", start, nil)
	return len(removed)
}

// AutoRotateKeys rotates every Active key older than the rotation
// interval, including keys already past their expiry; the successor gets a
// fresh lifetime and the old key is left for CleanupExpiredKeys. A failure
// is logged and the scan continues.
func (m *Manager) AutoRotateKeys() []RotationResult {
	start := time.Now()
	now := m.opts.now()

	m.registry.mu.RLock()
	due := make([]KeyMetadata, 0)
	for _, e := range m.registry.keys {
		if e.meta.ShouldRotate(now, m.opts.rotationInterval) {
			due = append(due, e.meta.clone())
		}
	}
	m.registry.mu.RUnlock()

	sortByCreation(due)

	results := make([]RotationResult, 0, len(due))
	for _, meta := range due {
		newID, err := m.RotateKey(meta.KeyID)
		if err != nil {
			m.logger.Warn("automatic rotation failed",
				slog.String("key_id", meta.KeyID),
				slog.String("user_id", meta.UserID),
				slog.Any("error", err))
		}
		if newID != "" {
			results = append(results, RotationResult{OldKeyID: meta.KeyID, NewKeyID: newID})
		}
	}
	m.opts.metrics.RecordOperation(metrics.OpAutoRotate, "all", start, nil)
	return results
}

// GetActiveKey returns the first Active, unexpired key of userID for alg,
// in the order the user's keys were created. The KeyPair is a copy that
// the caller must Release.
func (m *Manager) GetActiveKey(userID string, alg pqc.Algorithm) (*KeyPair, KeyMetadata, error) {
	now := m.opts.now()

	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()

	e := m.registry.firstUsableLocked(userID, func(md *KeyMetadata) bool {
		return md.Algorithm == alg
	}, now)
	if e == nil {
		return nil, KeyMetadata{}, m.fail("get_active_key", cryptoerr.New(cryptoerr.KindKeyNotFound,
			"no active %s key for user %s", alg, userID).WithUser(userID))
	}
	pair, err := e.pair.Clone()
	if err != nil {
		return nil, KeyMetadata{}, m.fail("get_active_key",
			cryptoerr.Wrap(cryptoerr.KindMemoryAllocation, err, "copy key material").WithKey(e.meta.KeyID))
	}
	return pair, e.meta.clone(), nil
}

// Close zeroes every private key and rejects further generation. It is
// safe to call more than once.
func (m *Manager) Close() error {
	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, e := range m.registry.keys {
		e.pair.Release()
		m.registry.removeLocked(id)
	}
	return nil
}

func (m *Manager) newKeyPair(alg pqc.Algorithm, now time.Time) (*KeyPair, error) {
	sizes, err := m.provider.Sizes(alg)
	if err != nil {
		return nil, err
	}
	public, secret, err := m.provider.GenerateKeyPair(alg)
	if err != nil {
		return nil, err
	}
	private, err := secmem.Seal(secret, m.opts.secretOpts...)
	if err != nil {
		memguard.WipeBytes(secret)
		return nil, cryptoerr.Wrap(cryptoerr.KindMemoryAllocation, err, "protect %s secret key", alg)
	}
	return newKeyPair(alg, public, private, sizes.KeySize(), now), nil
}

func (m *Manager) newMetadata(userID string, alg pqc.Algorithm, now time.Time, rotations uint32) KeyMetadata {
	expires := now.Add(m.opts.keyLifetime)
	return KeyMetadata{
		KeyID:         uuid.NewString(),
		UserID:        userID,
		Algorithm:     alg,
		CreatedAt:     now,
		ExpiresAt:     &expires,
		Status:        StatusActive,
		RotationCount: rotations,
	}
}

// attachReference stores a reference for the key described by meta. On
// failure meta is downgraded to Pending.
func (m *Manager) attachReference(meta *KeyMetadata, public []byte) error {
	if m.opts.store == nil {
		return nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.hsmTimeout)
	defer cancel()

	ref, err := m.opts.store.Store(ctx, hsm.StoreRequest{
		KeyID:     meta.KeyID,
		UserID:    meta.UserID,
		Algorithm: meta.Algorithm.String(),
		PublicKey: public,
	})
	m.opts.metrics.RecordOperation(metrics.OpHSMStore, meta.Algorithm.String(), start, err)
	if err != nil {
		meta.Status = StatusPending
		return cryptoerr.Wrap(cryptoerr.KindHSM, err, "create reference in %s store", m.opts.store.Name()).
			WithKey(meta.KeyID).
			WithUser(meta.UserID).
			WithOperation(metrics.OpHSMStore)
	}
	meta.HSMReference = ref
	return nil
}

func (m *Manager) removeReference(ref, keyID string) error {
	if m.opts.store == nil {
		return nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.hsmTimeout)
	defer cancel()

	err := m.opts.store.Remove(ctx, ref)
	m.opts.metrics.RecordOperation(metrics.OpHSMRemove, "", start, err)
	if err != nil {
		return cryptoerr.Wrap(cryptoerr.KindHSM, err, "remove reference %s", ref).
			WithKey(keyID).
			WithOperation(metrics.OpHSMRemove)
	}
	return nil
}

// discardReference removes a reference that never made it into the
// registry. Failures are reported only.
func (m *Manager) discardReference(ref, keyID string) {
	if ref == "" {
		return
	}
	if err := m.removeReference(ref, keyID); err != nil {
		_ = m.fail(metrics.OpHSMRemove, err)
	}
}

// fail classifies err, stamps the operation, reports it and returns it.
func (m *Manager) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *cryptoerr.Error
	if !errors.As(err, &cerr) {
		cerr = cryptoerr.Wrap(cryptoerr.KindInternal, err, "%s", op)
		err = cerr
	}
	if cerr.Operation == "" {
		cerr.Operation = op
	}
	m.reporter.Report(err, op)
	return err
}

func (m *Manager) logEvent(event string, meta *KeyMetadata, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("event", event),
		slog.String("key_id", meta.KeyID),
		slog.String("user_id", meta.UserID),
		slog.String("algorithm", meta.Algorithm.String()),
	}, attrs...)
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "key lifecycle event", all...)
}

func (m *Manager) capacityError(userID string) error {
	return cryptoerr.Wrap(cryptoerr.KindKeyGeneration, ErrCapacityExceeded,
		"user %s already holds %d active or pending keys", userID, m.opts.maxKeysPerUser).
		WithUser(userID)
}

func notFound(keyID string) error {
	return cryptoerr.New(cryptoerr.KindKeyNotFound, "no key with id %s", keyID).WithKey(keyID)
}

func invalidState(keyID string, status KeyStatus, op string) error {
	return cryptoerr.New(cryptoerr.KindInvalidKeyState, "cannot %s key in status %s", op, status).WithKey(keyID)
}

func closedError() error {
	return cryptoerr.Wrap(cryptoerr.KindInternal, ErrClosed, "key registry unavailable")
}
