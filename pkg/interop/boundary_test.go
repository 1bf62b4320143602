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
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider counts calls that reach the underlying provider.
type countingProvider struct {
	pqc.Provider
	calls atomic.Int32
}

func (p *countingProvider) Encapsulate(public []byte) ([]byte, []byte, error) {
	p.calls.Add(1)
	return p.Provider.Encapsulate(public)
}

func (p *countingProvider) Decapsulate(secret, ct []byte) ([]byte, error) {
	p.calls.Add(1)
	return p.Provider.Decapsulate(secret, ct)
}

func (p *countingProvider) Sign(secret, msg []byte) ([]byte, error) {
	p.calls.Add(1)
	return p.Provider.Sign(secret, msg)
}

func (p *countingProvider) Verify(public, msg, sig []byte) (bool, error) {
	p.calls.Add(1)
	return p.Provider.Verify(public, msg, sig)
}

type panickingProvider struct{ pqc.Provider }

func (panickingProvider) GenerateKeyPair(pqc.Algorithm) ([]byte, []byte, error) {
	panic("boom")
}

func newTestBoundary(t *testing.T, opts ...Option) *Boundary {
	t.Helper()
	b, err := New(pqc.NewCirclProvider(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func buffer(t *testing.T, b *Boundary, h Handle) []byte {
	t.Helper()
	data, status := b.Buffer(h)
	require.Equal(t, StatusSuccess, status)
	return bytes.Clone(data)
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, Status(0), StatusSuccess)
	assert.Equal(t, Status(-1), StatusInvalidInput)
	assert.Equal(t, Status(-2), StatusAllocationFailed)
	assert.Equal(t, Status(-3), StatusCryptoError)
	assert.Equal(t, Status(-4), StatusBufferTooSmall)
	assert.Equal(t, Status(-5), StatusNullPointer)
	assert.Equal(t, Status(-6), StatusInvalidKeyFormat)
	assert.Equal(t, Status(-7), StatusSignatureVerificationFailed)
	assert.Equal(t, "NullPointer", StatusNullPointer.String())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{secmem.ErrNullPointer, StatusNullPointer},
		{fmt.Errorf("wrapped: %w", secmem.ErrInvalidSize), StatusInvalidInput},
		{secmem.ErrUnknownHandle, StatusInvalidInput},
		{secmem.ErrAllocationFailed, StatusAllocationFailed},
		{secmem.ErrBufferTooSmall, StatusBufferTooSmall},
		{cryptoerr.New(cryptoerr.KindMemoryAllocation, "x"), StatusAllocationFailed},
		{cryptoerr.New(cryptoerr.KindInvalidKeyFormat, "x"), StatusInvalidKeyFormat},
		{cryptoerr.New(cryptoerr.KindInvalidCiphertext, "x"), StatusInvalidKeyFormat},
		{cryptoerr.New(cryptoerr.KindSignatureVerification, "x"), StatusSignatureVerificationFailed},
		{cryptoerr.New(cryptoerr.KindKeyNotFound, "x"), StatusInvalidInput},
		{cryptoerr.New(cryptoerr.KindEncapsulation, "x"), StatusCryptoError},
		{errors.New("foreign"), StatusCryptoError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "%v", tt.err)
	}
}

func TestKEMRoundTrip(t *testing.T) {
	b := newTestBoundary(t)
	sizes, err := b.provider.Sizes(pqc.KEM768)
	require.NoError(t, err)

	kp := b.GenerateKeypair(pqc.KEM768)
	require.NotNil(t, kp)
	assert.Equal(t, sizes.PublicKey, kp.PublicKeyLen)
	assert.Equal(t, sizes.SecretKey, kp.SecretKeyLen)

	out, status := b.Encapsulate(buffer(t, b, kp.PublicKey))
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, sizes.Ciphertext, out.CiphertextLen)
	assert.Equal(t, sizes.SharedSecret, out.SharedSecretLen)

	h, n, status := b.Decapsulate(buffer(t, b, kp.SecretKey), buffer(t, b, out.Ciphertext))
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, sizes.SharedSecret, n)
	assert.Equal(t, buffer(t, b, out.SharedSecret), buffer(t, b, h))

	assert.Equal(t, 5, b.Outstanding())
	assert.Equal(t, StatusSuccess, b.FreeKeypair(kp))
	assert.Equal(t, StatusSuccess, b.FreeEncapsulation(&out))
	assert.Equal(t, StatusSuccess, b.FreeBuffer(h))
	assert.Equal(t, 0, b.Outstanding())
}

func TestSignVerify(t *testing.T) {
	b := newTestBoundary(t)
	sizes, err := b.provider.Sizes(pqc.SIG65)
	require.NoError(t, err)

	kp := b.GenerateKeypair(pqc.SIG65)
	require.NotNil(t, kp)
	public := buffer(t, b, kp.PublicKey)
	msg := []byte("hello boundary")

	h, n, status := b.Sign(buffer(t, b, kp.SecretKey), msg)
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, sizes.Signature, n)
	sig := buffer(t, b, h)

	assert.Equal(t, StatusSuccess, b.Verify(public, msg, sig))
	assert.Equal(t, StatusSignatureVerificationFailed, b.Verify(public, []byte("hello boundarx"), sig))

	msgErr, ok := b.LastErrorMessage()
	require.True(t, ok)
	assert.Contains(t, msgErr, "signature")

	assert.Equal(t, StatusInvalidInput, b.Verify(public, msg, append(sig, 0)))
	assert.Equal(t, StatusInvalidInput, b.Verify(public, []byte{}, sig))
	assert.Equal(t, StatusNullPointer, b.Verify(public, msg, nil))
}

func TestValidationHappensBeforeProvider(t *testing.T) {
	p := &countingProvider{Provider: pqc.NewCirclProvider()}
	b, err := New(p)
	require.NoError(t, err)
	defer b.Close()

	_, status := b.Encapsulate(nil)
	assert.Equal(t, StatusNullPointer, status)
	_, status = b.Encapsulate([]byte{})
	assert.Equal(t, StatusInvalidInput, status)
	_, status = b.Encapsulate(make([]byte, 10))
	assert.Equal(t, StatusInvalidKeyFormat, status)

	_, _, status = b.Decapsulate(nil, make([]byte, 1088))
	assert.Equal(t, StatusNullPointer, status)
	_, _, status = b.Decapsulate(make([]byte, 2400), make([]byte, 5))
	assert.Equal(t, StatusInvalidKeyFormat, status)

	_, _, status = b.Sign(make([]byte, 7), []byte("m"))
	assert.Equal(t, StatusInvalidKeyFormat, status)
	_, _, status = b.Sign(nil, []byte("m"))
	assert.Equal(t, StatusNullPointer, status)

	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, 0, b.Outstanding())

	msg, ok := b.LastErrorMessage()
	require.True(t, ok)
	assert.Contains(t, msg, "null")

	b.ClearLastError()
	_, ok = b.LastErrorMessage()
	assert.False(t, ok)
}

func TestFreeIsNeverDouble(t *testing.T) {
	b := newTestBoundary(t)
	kp := b.GenerateKeypair(pqc.KEM768)
	require.NotNil(t, kp)
	pub := kp.PublicKey

	assert.Equal(t, StatusSuccess, b.FreeBuffer(pub))
	assert.Equal(t, StatusInvalidInput, b.FreeBuffer(pub))

	// The public half is already gone, the secret half is still freed.
	assert.Equal(t, StatusInvalidInput, b.FreeKeypair(kp))
	assert.Equal(t, 0, b.Outstanding())
	assert.Equal(t, KeyPairHandle{}, *kp)

	assert.Equal(t, StatusInvalidInput, b.FreeKeypair(kp))
	assert.Equal(t, StatusNullPointer, b.FreeKeypair(nil))
	assert.Equal(t, StatusNullPointer, b.FreeEncapsulation(nil))

	_, status := b.Buffer(pub)
	assert.Equal(t, StatusInvalidInput, status)
}

func TestFreedBuffersAreZeroed(t *testing.T) {
	var mu sync.Mutex
	var released [][]byte
	hook := func(mem []byte) {
		mu.Lock()
		defer mu.Unlock()
		released = append(released, bytes.Clone(mem))
	}
	b := newTestBoundary(t, WithArenaOptions(secmem.WithReleaseHook(hook)))

	kp := b.GenerateKeypair(pqc.SIG65)
	require.NotNil(t, kp)
	require.Equal(t, StatusSuccess, b.FreeKeypair(kp))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, released, 2)
	for _, mem := range released {
		assert.NotEmpty(t, mem)
		assert.Equal(t, make([]byte, len(mem)), mem)
	}
}

func TestPanicsBecomeStatus(t *testing.T) {
	b, err := New(panickingProvider{pqc.NewCirclProvider()})
	require.NoError(t, err)

	var kp *KeyPairHandle
	require.NotPanics(t, func() { kp = b.GenerateKeypair(pqc.KEM768) })
	assert.Nil(t, kp)
	msg, ok := b.LastErrorMessage()
	require.True(t, ok)
	assert.Contains(t, msg, "panic")
}

func TestUnsupportedAlgorithm(t *testing.T) {
	b := newTestBoundary(t)
	assert.Nil(t, b.GenerateKeypair(pqc.Algorithm(99)))
	_, ok := b.LastErrorMessage()
	assert.True(t, ok)
}

func TestManagerEntryPoints(t *testing.T) {
	unmanaged := newTestBoundary(t)
	_, status := unmanaged.ManagerGenerateKey("alice", "ML-KEM-768")
	assert.Equal(t, StatusCryptoError, status)

	m, err := lifecycle.NewManager(pqc.NewCirclProvider())
	require.NoError(t, err)
	defer m.Close()
	b := newTestBoundary(t, WithManager(m))

	id, status := b.ManagerGenerateKey("alice", "Kyber768")
	require.Equal(t, StatusSuccess, status)

	h, n, status := b.ManagerActivePublicKey("alice", "ML-KEM-768")
	require.Equal(t, StatusSuccess, status)
	public, _, err := m.GetPublicKey(id)
	require.NoError(t, err)
	assert.Equal(t, len(public), n)
	assert.Equal(t, public, buffer(t, b, h))
	require.Equal(t, StatusSuccess, b.FreeBuffer(h))

	newID, status := b.ManagerRotateKey(id)
	require.Equal(t, StatusSuccess, status)
	assert.NotEqual(t, id, newID)

	assert.Equal(t, StatusSuccess, b.ManagerRevokeKey(newID))
	assert.Equal(t, StatusInvalidInput, b.ManagerRevokeKey(newID))
	assert.Equal(t, StatusInvalidInput, b.ManagerRevokeKey("missing"))

	_, _, status = b.ManagerActivePublicKey("alice", "ML-KEM-768")
	assert.Equal(t, StatusInvalidInput, status)

	_, status = b.ManagerGenerateKey("alice", "RSA")
	assert.Equal(t, StatusInvalidInput, status)
	_, status = b.ManagerGenerateKey("", "ML-KEM-768")
	assert.Equal(t, StatusInvalidInput, status)
}

func TestManagerErrorsReportedOnce(t *testing.T) {
	reporter := cryptoerr.NewReporter()
	m, err := lifecycle.NewManager(pqc.NewCirclProvider(), lifecycle.WithReporter(reporter))
	require.NoError(t, err)
	defer m.Close()
	b := newTestBoundary(t, WithManager(m), WithReporter(reporter))

	assert.Equal(t, StatusInvalidInput, b.ManagerRevokeKey("missing"))
	assert.Equal(t, uint64(1), reporter.ErrorCount())
	msg, ok := b.LastErrorMessage()
	require.True(t, ok)
	assert.Contains(t, msg, "manager_revoke_key")

	_, status := b.ManagerRotateKey("missing")
	assert.Equal(t, StatusInvalidInput, status)
	_, _, status = b.ManagerActivePublicKey("nobody", "ML-DSA-65")
	assert.Equal(t, StatusInvalidInput, status)
	assert.Equal(t, uint64(3), reporter.ErrorCount())

	// Failures found by the boundary itself are still reported.
	_, status = b.ManagerGenerateKey("alice", "RSA")
	assert.Equal(t, StatusInvalidInput, status)
	assert.Equal(t, uint64(4), reporter.ErrorCount())
}

func TestBoundariesAreIndependent(t *testing.T) {
	a := newTestBoundary(t)
	c := newTestBoundary(t)

	_, status := a.Encapsulate(nil)
	require.Equal(t, StatusNullPointer, status)

	_, ok := c.LastErrorMessage()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), c.reporter.ErrorCount())
	assert.Equal(t, uint64(1), a.reporter.ErrorCount())
}

func TestOutstandingGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newTestBoundary(t, WithMetrics(metrics.New(reg)))

	kp := b.GenerateKeypair(pqc.KEM768)
	require.NotNil(t, kp)
	assert.Equal(t, 2.0, gaugeValue(t, reg, "pqkeys_secret_buffers_outstanding"))

	require.Equal(t, StatusSuccess, b.FreeKeypair(kp))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "pqkeys_secret_buffers_outstanding"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.NotEmpty(t, f.GetMetric())
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.Failf(t, "metric not found", "%s", name)
	return 0
}

func TestConcurrentCalls(t *testing.T) {
	b := newTestBoundary(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kp := b.GenerateKeypair(pqc.KEM768)
			if !assert.NotNil(t, kp) {
				return
			}
			data, _ := b.Buffer(kp.PublicKey)
			out, status := b.Encapsulate(bytes.Clone(data))
			assert.Equal(t, StatusSuccess, status)
			assert.Equal(t, StatusSuccess, b.FreeEncapsulation(&out))
			assert.Equal(t, StatusSuccess, b.FreeKeypair(kp))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Outstanding())
}
