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
	"sort"
)

// KeyStatistics summarises the registry.
type KeyStatistics struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Active        int `json:"active"`
	Rotating      int `json:"rotating"`
	Expired       int `json:"expired"`
	Revoked       int `json:"revoked"`
	NeedsCleanup  int `json:"needs_cleanup"`
	NeedsRotation int `json:"needs_rotation"`
	UniqueUsers   int `json:"unique_users"`
}

// Count returns the number of keys in status.
func (s KeyStatistics) Count(status KeyStatus) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusActive:
		return s.Active
	case StatusRotating:
		return s.Rotating
	case StatusExpired:
		return s.Expired
	case StatusRevoked:
		return s.Revoked
	default:
		return 0
	}
}

// Statistics counts keys by status and reports how many keys the next
// cleanup would remove and how many are due for rotation.
func (m *Manager) Statistics() KeyStatistics {
	now := m.opts.now()

	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()

	stats := KeyStatistics{
		Total:       len(m.registry.keys),
		UniqueUsers: len(m.registry.users),
	}
	for _, e := range m.registry.keys {
		switch e.meta.Status {
		case StatusPending:
			stats.Pending++
		case StatusActive:
			stats.Active++
		case StatusRotating:
			stats.Rotating++
		case StatusExpired:
			stats.Expired++
		case StatusRevoked:
			stats.Revoked++
		}
		if e.meta.NeedsCleanup(now) {
			stats.NeedsCleanup++
		}
		if e.meta.ShouldRotate(now, m.opts.rotationInterval) {
			stats.NeedsRotation++
		}
	}
	return stats
}

// KeyCountsByStatus returns key counts keyed by status name. Every status
// is present, so gauges drop to zero when the last key of a status goes.
func (m *Manager) KeyCountsByStatus() map[string]int {
	stats := m.Statistics()
	counts := make(map[string]int, len(statusNames))
	for _, status := range Statuses() {
		counts[status.String()] = stats.Count(status)
	}
	return counts
}

func sortByCreation(keys []KeyMetadata) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].KeyID < keys[j].KeyID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
}
