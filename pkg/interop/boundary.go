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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/logging"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

// Boundary is one instance of the native call surface. It owns its arena,
// last-error slot, reporter and metrics; nothing is process global.
type Boundary struct {
	provider pqc.Provider
	manager  *lifecycle.Manager
	arena    *secmem.Arena
	reporter *cryptoerr.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	errMu   sync.Mutex
	lastErr string
}

type config struct {
	manager   *lifecycle.Manager
	reporter  *cryptoerr.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	arenaOpts []secmem.Option
}

// Option configures a Boundary.
type Option func(*config)

// WithManager enables the key manager entry points.
func WithManager(m *lifecycle.Manager) Option {
	return func(c *config) { c.manager = m }
}

func WithReporter(r *cryptoerr.Reporter) Option {
	return func(c *config) { c.reporter = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithArenaOptions sets the options used for every output buffer, for
// example an allocator whose memory the host can address directly.
func WithArenaOptions(opts ...secmem.Option) Option {
	return func(c *config) { c.arenaOpts = append(c.arenaOpts, opts...) }
}

// New returns a Boundary over provider.
func New(provider pqc.Provider, opts ...Option) (*Boundary, error) {
	if provider == nil {
		return nil, cryptoerr.New(cryptoerr.KindConfiguration, "crypto provider is required")
	}
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	logger := logging.OrDiscard(c.logger)
	reporter := c.reporter
	if reporter == nil {
		reporter = cryptoerr.NewReporter(
			cryptoerr.WithLogger(logger),
			cryptoerr.WithRecorder(c.metrics),
			cryptoerr.WithSource("interop"))
	}
	return &Boundary{
		provider: pqc.Checked(provider),
		manager:  c.manager,
		arena:    secmem.NewArena(c.arenaOpts...),
		reporter: reporter,
		metrics:  c.metrics,
		logger:   logger,
	}, nil
}

// LastErrorMessage returns the message of the most recent failure. ok is
// false when no call has failed yet.
func (b *Boundary) LastErrorMessage() (msg string, ok bool) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr, b.lastErr != ""
}

// ClearLastError empties the last-error slot.
func (b *Boundary) ClearLastError() {
	b.errMu.Lock()
	b.lastErr = ""
	b.errMu.Unlock()
}

// Outstanding returns the number of buffers the host has not freed yet.
func (b *Boundary) Outstanding() int {
	return b.arena.Outstanding()
}

// Close releases every outstanding buffer.
func (b *Boundary) Close() error {
	b.arena.ReleaseAll()
	b.metrics.SetBuffersOutstanding(0)
	return nil
}

// Fail records err as the last error, reports it and returns its status.
// Host adapters use it for failures detected before the boundary is
// entered, such as a nil output pointer.
func (b *Boundary) Fail(op string, err error) Status {
	return b.fail(op, err)
}

// fail records err in the last-error slot, reports it and returns its
// status.
func (b *Boundary) fail(op string, err error) Status {
	status := b.record(op, err)
	b.reporter.Report(err, op)
	return status
}

// record sets the last-error slot without reporting. It is used for errors
// returned by the key manager, which reports its own failures.
func (b *Boundary) record(op string, err error) Status {
	b.errMu.Lock()
	b.lastErr = fmt.Sprintf("%s: %v", op, err)
	b.errMu.Unlock()
	return StatusOf(err)
}

// recoverTo converts a panic in op into a CryptoError status.
func (b *Boundary) recoverTo(op string, status *Status) {
	if r := recover(); r != nil {
		b.logger.Error("panic at native boundary", slog.String("operation", op), slog.Any("panic", r))
		*status = b.fail(op, cryptoerr.New(cryptoerr.KindBoundary, "internal panic: %v", r))
	}
}

func (b *Boundary) observe(op string, alg pqc.Algorithm, start time.Time, status Status) {
	var err error
	if status != StatusSuccess {
		err = fmt.Errorf("%s", status)
	}
	b.metrics.RecordOperation(op, alg.String(), start, err)
	b.metrics.SetBuffersOutstanding(b.arena.Outstanding())
}

// checkRegion rejects nil and empty buffers, and buffers whose length
// differs from want when want is positive.
func checkRegion(what string, p []byte, want int) error {
	if err := secmem.CheckRegion(p); err != nil {
		return cryptoerr.Wrap(cryptoerr.KindBoundary, err, "%s", what)
	}
	if want > 0 && len(p) != want {
		return cryptoerr.New(cryptoerr.KindInvalidKeyFormat, "%s is %d bytes, want %d", what, len(p), want)
	}
	return nil
}

func (b *Boundary) sizes(alg pqc.Algorithm) (pqc.Sizes, error) {
	return b.provider.Sizes(alg)
}

// seal moves data into a new arena buffer. The source is wiped whether or
// not the move succeeds.
func (b *Boundary) seal(data []byte) (Handle, int, error) {
	n := len(data)
	h, err := b.arena.Seal(data)
	if err != nil {
		memguard.WipeBytes(data)
		return 0, 0, cryptoerr.Wrap(cryptoerr.KindMemoryAllocation, err, "allocate %d byte output buffer", n)
	}
	return h, n, nil
}
