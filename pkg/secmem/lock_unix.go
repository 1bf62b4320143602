//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

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

import "golang.org/x/sys/unix"

// lockPages keeps b out of swap. Locking is best effort: EPERM or an
// exhausted RLIMIT_MEMLOCK simply leaves the pages unlocked.
func lockPages(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return unix.Mlock(b) == nil
}

func unlockPages(b []byte) {
	_ = unix.Munlock(b)
}
