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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to KeyStatus
		allowed  bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusRevoked, true},
		{StatusPending, StatusRotating, false},
		{StatusActive, StatusRotating, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusRevoked, true},
		{StatusActive, StatusPending, false},
		{StatusRotating, StatusRevoked, true},
		{StatusRotating, StatusExpired, true},
		{StatusRotating, StatusActive, false},
		{StatusExpired, StatusRevoked, true},
		{StatusExpired, StatusActive, false},
		{StatusRevoked, StatusActive, false},
		{StatusRevoked, StatusExpired, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusText(t *testing.T) {
	for _, s := range Statuses() {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back KeyStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s KeyStatus
	assert.Error(t, s.UnmarshalText([]byte("dormant")))
	_, err := KeyStatus(42).MarshalText()
	assert.Error(t, err)
}

func TestMetadataPredicates(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	meta := KeyMetadata{Status: StatusActive, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: &expires}

	assert.False(t, meta.IsExpired(now))
	assert.True(t, meta.IsExpired(now.Add(2*time.Hour)))
	assert.True(t, meta.ShouldRotate(now, time.Hour))
	assert.False(t, meta.ShouldRotate(now, 3*time.Hour))
	assert.False(t, meta.NeedsCleanup(now))

	meta.Status = StatusRotating
	assert.False(t, meta.ShouldRotate(now, time.Hour))
	meta.Status = StatusExpired
	assert.True(t, meta.NeedsCleanup(now))

	noExpiry := KeyMetadata{Status: StatusActive}
	assert.False(t, noExpiry.IsExpired(now.Add(1000*time.Hour)))
}

func TestMetadataCloneIsDeep(t *testing.T) {
	now := time.Now()
	meta := KeyMetadata{KeyID: "k", ExpiresAt: &now, LastUsed: &now}
	c := meta.clone()
	*c.ExpiresAt = now.Add(time.Hour)
	assert.True(t, meta.ExpiresAt.Equal(now))
}

func TestMetadataJSON(t *testing.T) {
	meta := KeyMetadata{KeyID: "k1", UserID: "alice", Status: StatusRotating}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"rotating"`)
	assert.NotContains(t, string(data), "expires_at")
}
