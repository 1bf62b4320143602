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

// Package lifecycle manages post-quantum key material for many users: it
// generates, indexes, rotates, revokes, expires and sweeps keys held in an
// in-memory registry.
//
// Key states move forward only:
//
//	Pending  -> Active | Revoked
//	Active   -> Rotating | Expired | Revoked
//	Rotating -> Expired | Revoked
//	Expired  -> Revoked
//
// Rotation is non-destructive. The old key is parked in Rotating with its
// material intact so in-flight consumers can finish, and only revocation or
// cleanup after expiry removes it.
package lifecycle

import (
	"fmt"
	"strings"
)

// KeyStatus is the lifecycle state of a key.
type KeyStatus uint8

const (
	StatusPending KeyStatus = iota
	StatusActive
	StatusRotating
	StatusExpired
	StatusRevoked
)

var statusNames = [...]string{
	StatusPending:  "pending",
	StatusActive:   "active",
	StatusRotating: "rotating",
	StatusExpired:  "expired",
	StatusRevoked:  "revoked",
}

// Statuses lists every status in lifecycle order.
func Statuses() []KeyStatus {
	return []KeyStatus{StatusPending, StatusActive, StatusRotating, StatusExpired, StatusRevoked}
}

func (s KeyStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// MarshalText encodes the status by name.
func (s KeyStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("lifecycle: invalid key status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *KeyStatus) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range statusNames {
		if n == name {
			*s = KeyStatus(i)
			return nil
		}
	}
	return fmt.Errorf("lifecycle: unknown key status %q", text)
}

// CanTransition reports whether a key may move from s to next.
func (s KeyStatus) CanTransition(next KeyStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusRevoked
	case StatusActive:
		return next == StatusRotating || next == StatusExpired || next == StatusRevoked
	case StatusRotating:
		return next == StatusExpired || next == StatusRevoked
	case StatusExpired:
		return next == StatusRevoked
	default:
		return false
	}
}
