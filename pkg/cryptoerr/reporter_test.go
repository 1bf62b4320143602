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

package cryptoerr

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu     sync.Mutex
	errors map[string]int
	events map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{errors: map[string]int{}, events: map[string]int{}}
}

func (c *countingRecorder) RecordError(_, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[code]++
}

func (c *countingRecorder) RecordSecurityEvent(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventType]++
}

func TestReporterCountsErrors(t *testing.T) {
	r := NewReporter()
	_, ok := r.LastErrorTime()
	assert.False(t, ok)

	r.Report(New(KindKeyNotFound, "missing"), "get_key")
	r.Report(nil, "ignored")
	r.Report(New(KindRateLimit, "slow down"), "generate")

	assert.Equal(t, uint64(2), r.ErrorCount())
	_, ok = r.LastErrorTime()
	assert.True(t, ok)
}

func TestReporterEmitsAnomalyOnlyForCritical(t *testing.T) {
	sink := NewMemorySink(10)
	rec := newCountingRecorder()
	r := NewReporter(WithSink(sink), WithRecorder(rec), WithSource("test"))

	r.Report(New(KindKeyExpired, "old"), "sign")
	assert.Empty(t, sink.Events())

	r.Report(New(KindKeyRevoked, "in use").WithKey("k1").WithUser("alice"), "sign")
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventSystemAnomaly, events[0].Type)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Equal(t, "k1", events[0].KeyID)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "test", events[0].Source)

	r.Report(New(KindSecurityPolicy, "denied"), "policy")
	assert.Len(t, sink.Events(), 2)

	assert.Equal(t, 1, rec.errors["CRYPTO_007"])
	assert.Equal(t, 1, rec.errors["CRYPTO_008"])
	assert.Equal(t, 2, rec.events[string(EventSystemAnomaly)])
}

func TestMemorySinkIsBounded(t *testing.T) {
	sink := NewMemorySink(2)
	for _, d := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Emit(NewSecurityEvent(EventSuspiciousActivity, SeverityLow, d)))
	}
	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Details)
	assert.Equal(t, "c", events[1].Details)
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "security.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ev := NewSecurityEvent(EventPolicyViolation, SeverityHigh, "blocked")
	ev.KeyID = "k9"
	require.NoError(t, sink.Emit(ev))
	require.NoError(t, sink.Close())
	// Emitting after close reopens the file.
	require.NoError(t, sink.Emit(ev))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var got SecurityEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		assert.Equal(t, EventPolicyViolation, got.Type)
		assert.Equal(t, SeverityHigh, got.Severity)
		assert.Equal(t, "k9", got.KeyID)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestMultiSink(t *testing.T) {
	a, b := NewMemorySink(5), NewMemorySink(5)
	m := MultiSink{a, b, NopSink{}}
	require.NoError(t, m.Emit(NewSecurityEvent(EventKeyCompromise, SeverityCritical, "x")))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.NoError(t, m.Close())
}

func TestSeverityLevels(t *testing.T) {
	assert.Equal(t, "CRITICAL", SeverityCritical.String())
	assert.Equal(t, SeverityCritical.Level(), SeverityHigh.Level())
	assert.NotEqual(t, SeverityMedium.Level(), SeverityLow.Level())
}
