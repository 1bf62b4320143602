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

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
)

// ProviderCheck runs the provider self test on every readiness probe.
func ProviderCheck(p pqc.Provider) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := ctx.Err(); err != nil {
			return CheckResult{Name: "provider", Status: StatusUnhealthy, Error: err.Error()}
		}
		report, err := pqc.SelfTest(p)
		if err != nil {
			return CheckResult{
				Name:    "provider",
				Status:  StatusUnhealthy,
				Message: "provider self test failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Name:    "provider",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s self test passed", report.Provider),
		}
	}
}

// SweepCheck reports degraded when the background sweeper has not completed
// a pass within maxAge. lastSweep returns the zero time before the first
// pass, which counts as healthy while the daemon is starting.
func SweepCheck(lastSweep func() time.Time, maxAge time.Duration) CheckFunc {
	return func(_ context.Context) CheckResult {
		last := lastSweep()
		if last.IsZero() {
			return CheckResult{Name: "sweeper", Status: StatusHealthy, Message: "no sweep yet"}
		}
		if age := time.Since(last); age > maxAge {
			return CheckResult{
				Name:    "sweeper",
				Status:  StatusDegraded,
				Message: fmt.Sprintf("last sweep %s ago", age.Round(time.Second)),
			}
		}
		return CheckResult{Name: "sweeper", Status: StatusHealthy, Message: "sweeping"}
	}
}
