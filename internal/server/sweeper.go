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
	"context"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
)

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	Removed int                        `json:"removed"`
	Rotated []lifecycle.RotationResult `json:"rotated"`
	At      time.Time                  `json:"at"`
}

// sweeper periodically removes finished keys and rotates stale ones.
type sweeper struct {
	manager    *lifecycle.Manager
	logger     *slog.Logger
	interval   time.Duration
	autoRotate bool
	done       func(time.Time)
}

func newSweeper(m *lifecycle.Manager, logger *slog.Logger, interval time.Duration, autoRotate bool, done func(time.Time)) *sweeper {
	return &sweeper{
		manager:    m,
		logger:     logger,
		interval:   interval,
		autoRotate: autoRotate,
		done:       done,
	}
}

func (sw *sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweep()
		}
	}
}

func (sw *sweeper) sweep() SweepResult {
	result := SweepResult{Rotated: []lifecycle.RotationResult{}}
	if sw.autoRotate {
		result.Rotated = append(result.Rotated, sw.manager.AutoRotateKeys()...)
	}
	result.Removed = sw.manager.CleanupExpiredKeys()
	result.At = time.Now()

	if result.Removed > 0 || len(result.Rotated) > 0 {
		sw.logger.Info("Key sweep complete",
			slog.Int("removed", result.Removed),
			slog.Int("rotated", len(result.Rotated)))
	}
	if sw.done != nil {
		sw.done(result.At)
	}
	return result
}

// Sweep runs one maintenance pass immediately.
func (s *Server) Sweep() SweepResult {
	sw := newSweeper(s.manager, s.logger, s.config.Lifecycle.SweepInterval, s.config.Lifecycle.AutoRotate, s.markSwept)
	return sw.sweep()
}
