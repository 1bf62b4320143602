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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore wraps a MemoryStore and fails Store while failing is set.
type flakyStore struct {
	*hsm.MemoryStore
	failing atomic.Bool
	removes atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: hsm.NewMemoryStore("test", "1")}
}

func (s *flakyStore) Store(ctx context.Context, req hsm.StoreRequest) (string, error) {
	if s.failing.Load() {
		return "", errors.New("device unavailable")
	}
	return s.MemoryStore.Store(ctx, req)
}

func (s *flakyStore) Remove(ctx context.Context, ref string) error {
	s.removes.Add(1)
	return s.MemoryStore.Remove(ctx, ref)
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(pqc.NewCirclProvider(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func requireKind(t *testing.T, err error, kind cryptoerr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, cryptoerr.KindOf(err), "unexpected error: %v", err)
}
