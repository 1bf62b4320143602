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
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventRecorder is notified of every reported error and emitted event.
// pkg/metrics implements it.
type EventRecorder interface {
	RecordError(operation, code string)
	RecordSecurityEvent(eventType string)
}

// Reporter aggregates reported errors and raises a SystemAnomaly security
// event for every Critical error. It is safe for concurrent use.
type Reporter struct {
	logger   *slog.Logger
	sink     EventSink
	recorder EventRecorder
	source   string

	count    atomic.Uint64
	mu       sync.RWMutex
	lastTime time.Time
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLogger sets the logger errors are written to.
func WithLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSink sets the sink that receives security events.
func WithSink(sink EventSink) ReporterOption {
	return func(r *Reporter) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithRecorder sets a recorder for error and event counters.
func WithRecorder(rec EventRecorder) ReporterOption {
	return func(r *Reporter) { r.recorder = rec }
}

// WithSource sets the source stamped on emitted events.
func WithSource(source string) ReporterOption {
	return func(r *Reporter) { r.source = source }
}

// NewReporter returns a Reporter. Without options it logs nowhere and
// discards events.
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sink:   NopSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report records err. where names the operation or call site that observed
// it. Nil errors are ignored.
func (r *Reporter) Report(err error, where string) {
	if err == nil {
		return
	}
	cerr := As(err)

	r.count.Add(1)
	r.mu.Lock()
	r.lastTime = time.Now()
	r.mu.Unlock()

	op := cerr.Operation
	if op == "" {
		op = where
	}

	r.logger.LogAttrs(context.Background(), cerr.Severity().Level(), "crypto error",
		slog.String("error_code", cerr.Code()),
		slog.String("severity", cerr.Severity().String()),
		slog.Bool("recoverable", cerr.Recoverable()),
		slog.String("context", where),
		slog.String("key_id", cerr.KeyID),
		slog.String("user_id", cerr.UserID),
		slog.Any("error", err))

	if r.recorder != nil {
		r.recorder.RecordError(op, cerr.Code())
	}

	if cerr.Severity() == SeverityCritical {
		event := NewSecurityEvent(EventSystemAnomaly, SeverityCritical,
			"critical error in "+where+": "+err.Error())
		event.KeyID = cerr.KeyID
		event.UserID = cerr.UserID
		event.Operation = op
		event.Source = r.source
		r.Emit(event)
	}
}

// Emit forwards event to the configured sink. Sink failures are logged.
func (r *Reporter) Emit(event SecurityEvent) {
	if r.recorder != nil {
		r.recorder.RecordSecurityEvent(string(event.Type))
	}
	if err := r.sink.Emit(event); err != nil {
		r.logger.Warn("failed to emit security event",
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
	}
}

// ErrorCount returns the number of errors reported so far.
func (r *Reporter) ErrorCount() uint64 {
	return r.count.Load()
}

// LastErrorTime returns when the last error was reported. ok is false when
// nothing has been reported yet.
func (r *Reporter) LastErrorTime() (t time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTime, !r.lastTime.IsZero()
}

// Close closes the underlying sink.
func (r *Reporter) Close() error {
	return r.sink.Close()
}
