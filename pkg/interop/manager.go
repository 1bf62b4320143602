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
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

func (b *Boundary) requireManager(op string) Status {
	if b.manager == nil {
		return b.fail(op, cryptoerr.New(cryptoerr.KindConfiguration, "no key manager attached"))
	}
	return StatusSuccess
}

// ManagerGenerateKey generates a managed key for user. algorithm accepts
// any name or alias understood by pqc.ParseAlgorithm. A key whose external
// reference failed is still returned with a non-success status.
func (b *Boundary) ManagerGenerateKey(user, algorithm string) (keyID string, status Status) {
	const op = "manager_generate_key"
	defer b.recoverTo(op, &status)
	if s := b.requireManager(op); s != StatusSuccess {
		return "", s
	}
	if user == "" {
		return "", b.fail(op, cryptoerr.Wrap(cryptoerr.KindBoundary, secmem.ErrInvalidSize, "user id is empty"))
	}
	alg, err := pqc.ParseAlgorithm(algorithm)
	if err != nil {
		return "", b.fail(op, err)
	}
	id, err := b.manager.GenerateKey(user, alg)
	if err != nil {
		return id, b.record(op, err)
	}
	return id, StatusSuccess
}

// ManagerRotateKey rotates keyID and returns the successor's id.
func (b *Boundary) ManagerRotateKey(keyID string) (newID string, status Status) {
	const op = "manager_rotate_key"
	defer b.recoverTo(op, &status)
	if s := b.requireManager(op); s != StatusSuccess {
		return "", s
	}
	id, err := b.manager.RotateKey(keyID)
	if err != nil {
		return id, b.record(op, err)
	}
	return id, StatusSuccess
}

// ManagerRevokeKey revokes keyID.
func (b *Boundary) ManagerRevokeKey(keyID string) (status Status) {
	const op = "manager_revoke_key"
	defer b.recoverTo(op, &status)
	if s := b.requireManager(op); s != StatusSuccess {
		return s
	}
	if err := b.manager.RevokeKey(keyID); err != nil {
		return b.record(op, err)
	}
	return StatusSuccess
}

// ManagerActivePublicKey copies the public key of the user's active key for
// algorithm into a new buffer.
func (b *Boundary) ManagerActivePublicKey(user, algorithm string) (h Handle, n int, status Status) {
	const op = "manager_active_public_key"
	defer b.recoverTo(op, &status)
	if s := b.requireManager(op); s != StatusSuccess {
		return 0, 0, s
	}
	alg, err := pqc.ParseAlgorithm(algorithm)
	if err != nil {
		return 0, 0, b.fail(op, err)
	}
	pair, _, err := b.manager.GetActiveKey(user, alg)
	if err != nil {
		return 0, 0, b.record(op, err)
	}
	public := append([]byte(nil), pair.PublicKey...)
	pair.Release()

	if h, n, err = b.seal(public); err != nil {
		return 0, 0, b.fail(op, err)
	}
	b.metrics.SetBuffersOutstanding(b.arena.Outstanding())
	return h, n, StatusSuccess
}
