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
	"runtime"
	"time"
)

// KeyCounter reports key counts by lifecycle status.
type KeyCounter interface {
	KeyCountsByStatus() map[string]int
}

// ResourceCollector periodically refreshes runtime gauges and, when a
// KeyCounter is attached, the per status key gauges.
type ResourceCollector struct {
	metrics  *Metrics
	keys     KeyCounter
	interval time.Duration
	started  time.Time
}

// NewResourceCollector returns a collector that updates m every interval.
// keys may be nil.
func NewResourceCollector(m *Metrics, keys KeyCounter, interval time.Duration) *ResourceCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ResourceCollector{metrics: m, keys: keys, interval: interval, started: time.Now()}
}

// Run collects until ctx is cancelled. It collects once immediately.
func (rc *ResourceCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.Collect()
		}
	}
}

// Collect performs a single collection.
func (rc *ResourceCollector) Collect() {
	m := rc.metrics
	if m == nil {
		return
	}
	m.goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.uptime.Set(time.Since(rc.started).Seconds())

	if rc.keys != nil {
		m.SetKeyCounts(rc.keys.KeyCountsByStatus())
	}
}
