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

	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
)

// KeyMetadata is the lifecycle record of one key. Values returned by the
// Manager are copies and may be retained freely.
type KeyMetadata struct {
	KeyID         string        `json:"key_id"`
	UserID        string        `json:"user_id"`
	Algorithm     pqc.Algorithm `json:"algorithm"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	Status        KeyStatus     `json:"status"`
	HSMReference  string        `json:"hsm_reference,omitempty"`
	RotationCount uint32        `json:"rotation_count"`
	LastUsed      *time.Time    `json:"last_used,omitempty"`
}

// IsExpired reports whether now is past ExpiresAt. Keys without an expiry
// never expire by time.
func (m *KeyMetadata) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// ShouldRotate reports whether an active key is older than interval.
func (m *KeyMetadata) ShouldRotate(now time.Time, interval time.Duration) bool {
	return m.Status == StatusActive && now.Sub(m.CreatedAt) > interval
}

// NeedsCleanup reports whether the next sweep would remove the key.
func (m *KeyMetadata) NeedsCleanup(now time.Time) bool {
	return m.Status == StatusExpired || m.IsExpired(now)
}

// usable reports whether the key may be handed out as a user's active key.
func (m *KeyMetadata) usable(now time.Time) bool {
	return m.Status == StatusActive && !m.IsExpired(now)
}

func (m *KeyMetadata) clone() KeyMetadata {
	c := *m
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.LastUsed != nil {
		t := *m.LastUsed
		c.LastUsed = &t
	}
	return c
}
