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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m := New(nil)

	m.RecordOperation(OpGenerate, "ML-KEM-768", time.Now(), nil)
	m.RecordOperation(OpGenerate, "ML-KEM-768", time.Now(), errors.New("x"))
	m.RecordOperation(OpSign, "ML-DSA-65", time.Now(), nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpGenerate, "ML-KEM-768", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpGenerate, "ML-KEM-768", StatusError)))
	assert.Equal(t, 3, testutil.CollectAndCount(m.operationsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(prometheus.NewRegistry()), New(prometheus.NewRegistry())
	a.RecordError(OpRevoke, "CRYPTO_006")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.errorsTotal.WithLabelValues(OpRevoke, "CRYPTO_006")))
	assert.Equal(t, 0, testutil.CollectAndCount(b.errorsTotal))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation(OpGenerate, "x", time.Now(), nil)
	m.RecordError(OpGenerate, "CRYPTO_001")
	m.RecordSecurityEvent("system_anomaly")
	m.SetKeyCounts(map[string]int{"active": 1})
	m.SetBuffersOutstanding(3)

	rec := httptest.NewRecorder()
	m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGauges(t *testing.T) {
	m := New(nil)
	m.SetKeyCounts(map[string]int{"active": 4, "revoked": 1})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.keys.WithLabelValues("active")))
	m.SetKeyCounts(map[string]int{"active": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.keys))

	m.SetBuffersOutstanding(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.buffersOutstanding))

	m.RecordSecurityEvent("system_anomaly")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.securityEvents.WithLabelValues("system_anomaly")))
}

func TestHTTPMiddleware(t *testing.T) {
	m := New(nil)
	h := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(unmatchedRoute, http.MethodGet, "404")))
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(nil)
	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/v1/keys/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/keys/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/keys/def", nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/keys/{id}", http.MethodGet, "200")))
}

type staticCounter map[string]int

func (s staticCounter) KeyCountsByStatus() map[string]int { return s }

func TestResourceCollector(t *testing.T) {
	m := New(nil)
	rc := NewResourceCollector(m, staticCounter{"active": 3}, time.Hour)
	rc.Collect()
	assert.Greater(t, testutil.ToFloat64(m.goroutines), 0.0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.keys.WithLabelValues("active")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rc.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "collector did not stop")
	}
}
