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

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-pqkeys/internal/config"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/health"
	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/logging"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *Server {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{
		WithProvider(pqc.NewCirclProvider()),
		WithLogger(logging.Discard()),
	}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/startupz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	s.Health().MarkStarted()
	rec = get(t, h, "/startupz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[HealthResponse](t, rec)
	assert.Equal(t, health.StatusHealthy, ready.Status)
	names := make([]string, 0, len(ready.Checks))
	for _, c := range ready.Checks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"provider", "sweeper"}, names)
}

func TestKeyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	m := s.Manager()

	kem, err := m.GenerateKey("alice", pqc.KEM768)
	require.NoError(t, err)
	_, err = m.GenerateKey("alice", pqc.SIG65)
	require.NoError(t, err)
	_, err = m.GenerateKey("bob", pqc.KEM768)
	require.NoError(t, err)

	stats := decode[lifecycle.KeyStatistics](t, get(t, h, "/v1/stats"))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.UniqueUsers)

	keys := decode[[]lifecycle.KeyMetadata](t, get(t, h, "/v1/users/alice/keys"))
	assert.Len(t, keys, 2)
	assert.Len(t, decode[[]lifecycle.KeyMetadata](t, get(t, h, "/v1/users/nobody/keys")), 0)
	assert.Len(t, decode[[]lifecycle.KeyMetadata](t, get(t, h, "/v1/keys")), 3)

	rec := get(t, h, "/v1/keys/"+kem)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[lifecycle.KeyMetadata](t, rec)
	assert.Equal(t, kem, meta.KeyID)
	assert.Equal(t, pqc.KEM768, meta.Algorithm)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = get(t, h, "/v1/keys/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CRYPTO_006", decode[ErrorResponse](t, rec).Code)
}

func TestRevokedUseRaisesEvent(t *testing.T) {
	audit := filepath.Join(t.TempDir(), "events.jsonl")
	s := newTestServer(t, func(c *config.Config) { c.Audit.File = audit })
	m := s.Manager()

	id, err := m.GenerateKey("alice", pqc.SIG65)
	require.NoError(t, err)
	require.NoError(t, m.RevokeKey(id))
	_, err = m.Sign(id, []byte("msg"))
	require.ErrorIs(t, err, cryptoerr.ErrKeyRevoked)

	events := decode[[]cryptoerr.SecurityEvent](t, get(t, s.Handler(), "/v1/events"))
	require.Len(t, events, 1)
	assert.Equal(t, cryptoerr.EventSystemAnomaly, events[0].Type)
	assert.Equal(t, id, events[0].KeyID)
	assert.Equal(t, "pqkeyd", events[0].Source)

	require.NoError(t, s.Shutdown(context.Background()))
	f, err := os.Open(audit)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), string(cryptoerr.EventSystemAnomaly))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.Manager().GenerateKey("alice", pqc.KEM768)
	require.NoError(t, err)

	h := s.Handler()
	get(t, h, "/v1/stats")
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pqkeys_operations_total")
	assert.Contains(t, body, "pqkeys_http_requests_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Metrics.Enabled = false })
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
}

func TestSweep(t *testing.T) {
	s := newTestServer(t, nil)
	m := s.Manager()
	assert.True(t, s.LastSweep().IsZero())

	id, err := m.GenerateKey("alice", pqc.KEM768)
	require.NoError(t, err)
	require.NoError(t, m.ExpireKey(id))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sweep", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[SweepResult](t, rec)
	assert.Equal(t, 1, result.Removed)
	assert.Empty(t, result.Rotated)
	assert.False(t, s.LastSweep().IsZero())
	assert.Equal(t, 0, m.KeyCount())

	again := s.Sweep()
	assert.Equal(t, 0, again.Removed)
}

func TestRateLimitedAPI(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerMinute = 1
		c.RateLimit.Burst = 1
	})
	h := s.Handler()
	assert.Equal(t, http.StatusOK, get(t, h, "/v1/stats").Code)
	rec := get(t, h, "/v1/stats")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "CRYPTO_017", decode[ErrorResponse](t, rec).Code)
	// Probes are not limited.
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

func TestReferenceStoreFromConfig(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.HSM.Type = "memory"; c.HSM.Slot = "0" })
	id, err := s.Manager().GenerateKey("alice", pqc.KEM768)
	require.NoError(t, err)
	meta, err := s.Manager().GetKey(id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(meta.HSMReference, "hsm://"), meta.HSMReference)
}

func TestInjectedReferenceStore(t *testing.T) {
	store := hsm.NewMemoryStore("test", "1")
	s := newTestServer(t, nil, WithReferenceStore(store))
	_, err := s.Manager().GenerateKey("alice", pqc.SIG65)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Provider = "missing"
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.ErrorContains(t, err, "failed to create provider")
}

func TestRunServesUntilCancelled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Lifecycle.SweepInterval = 10 * time.Millisecond })
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, listener) }()

	url := fmt.Sprintf("http://%s/healthz", listener.Addr())
	resp, err := http.Get(url)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return !s.LastSweep().IsZero() }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.Health().IsStarted())

	_, err = s.Manager().GenerateKey("alice", pqc.KEM768)
	assert.ErrorIs(t, err, lifecycle.ErrClosed)
}
