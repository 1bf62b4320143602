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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
)

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("hsm://softhsm:0/1234-abcd")
	require.NoError(t, err)
	assert.Equal(t, Reference{Provider: "softhsm", Slot: "0", KeyID: "1234-abcd"}, ref)
	assert.Equal(t, "hsm://softhsm:0/1234-abcd", ref.String())

	for _, bad := range []string{"", "softhsm:0/k", "hsm://softhsm/k", "hsm://softhsm:0/", "hsm://:0/k"} {
		_, err := ParseReference(bad)
		assert.ErrorIs(t, err, ErrInvalidReference, bad)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("", "")
	ctx := context.Background()

	pub := []byte{1, 2, 3}
	ref, err := s.Store(ctx, StoreRequest{KeyID: "k1", UserID: "alice", Algorithm: "ML-KEM-768", PublicKey: pub})
	require.NoError(t, err)
	assert.Equal(t, "hsm://memory:0/k1", ref)
	assert.Equal(t, 1, s.Len())

	pub[0] = 9
	rec, ok := s.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, rec.PublicKey)

	require.NoError(t, s.Remove(ctx, ref))
	err = s.Remove(ctx, ref)
	assert.ErrorIs(t, err, ErrReferenceNotFound)
	assert.ErrorIs(t, err, cryptoerr.ErrHSM)
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore("x", "1").Store(ctx, StoreRequest{KeyID: "k"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, cryptoerr.ErrHSM)
}

type fakeVault struct {
	mu      sync.Mutex
	writes  map[string]map[string]interface{}
	deletes []string
	fail    bool
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":["sealed"]}`))
		return
	}
	p := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.writes[p] = body
		_, _ = w.Write([]byte(`{"data":{"version":1}}`))
	case http.MethodDelete:
		f.deletes = append(f.deletes, p)
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultStore(t *testing.T) {
	fake := &fakeVault{writes: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewVaultStore(VaultConfig{Address: srv.URL, Token: "root", MountPath: "kv"})
	require.NoError(t, err)
	assert.Equal(t, "vault", s.Name())

	ctx := context.Background()
	ref, err := s.Store(ctx, StoreRequest{KeyID: "k1", UserID: "bob", Algorithm: "ML-DSA-65", PublicKey: []byte("pk")})
	require.NoError(t, err)
	assert.Equal(t, "hsm://vault:kv/k1", ref)

	fake.mu.Lock()
	body, ok := fake.writes["kv/data/pqkeys/k1"]
	fake.mu.Unlock()
	require.True(t, ok)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "bob", data["user_id"])
	assert.Equal(t, "cGs=", data["public_key"])

	require.NoError(t, s.Remove(ctx, ref))
	fake.mu.Lock()
	assert.Equal(t, []string{"kv/metadata/pqkeys/k1"}, fake.deletes)
	fake.mu.Unlock()

	err = s.Remove(ctx, "hsm://vault:other/k1")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestVaultStoreFailure(t *testing.T) {
	fake := &fakeVault{writes: map[string]map[string]interface{}{}, fail: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewVaultStore(VaultConfig{Address: srv.URL, Token: "root"})
	require.NoError(t, err)

	_, err = s.Store(context.Background(), StoreRequest{KeyID: "k2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cryptoerr.ErrHSM)
	assert.Equal(t, "k2", cryptoerr.As(err).KeyID)
}

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(Config{Type: "memory", Slot: "7"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	_, err = New(Config{Type: "vault"})
	assert.Error(t, err)

	_, err = New(Config{Type: "tape"})
	assert.Error(t, err)
}
