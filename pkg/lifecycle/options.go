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

package lifecycle

import (
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqkeys/pkg/secmem"
)

const (
	DefaultMaxKeysPerUser   = 10
	DefaultRotationInterval = 30 * 24 * time.Hour
	DefaultKeyLifetime      = 30 * 24 * time.Hour
	DefaultHSMTimeout       = 5 * time.Second
	DefaultWorkers          = 4
)

type options struct {
	maxKeysPerUser   int
	rotationInterval time.Duration
	keyLifetime      time.Duration
	hsmTimeout       time.Duration
	workers          int
	store            hsm.ReferenceStore
	logger           *slog.Logger
	metrics          *metrics.Metrics
	reporter         *cryptoerr.Reporter
	limiter          *ratelimit.Limiter
	now              func() time.Time
	secretOpts       []secmem.Option
}

// Option configures a Manager.
type Option func(*options)

// WithMaxKeysPerUser caps the active plus pending keys a user may hold at
// generation time.
func WithMaxKeysPerUser(n int) Option {
	return func(o *options) { o.maxKeysPerUser = n }
}

// WithRotationInterval sets the age after which AutoRotateKeys rotates an
// active key.
func WithRotationInterval(d time.Duration) Option {
	return func(o *options) { o.rotationInterval = d }
}

// WithKeyLifetime sets how long after creation a key expires.
func WithKeyLifetime(d time.Duration) Option {
	return func(o *options) { o.keyLifetime = d }
}

// WithReferenceStore enables external HSM references.
func WithReferenceStore(store hsm.ReferenceStore) Option {
	return func(o *options) { o.store = store }
}

// WithHSMTimeout bounds every reference store call.
func WithHSMTimeout(d time.Duration) Option {
	return func(o *options) { o.hsmTimeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReporter sets the error reporter. Without one the Manager builds a
// reporter from its logger and metrics.
func WithReporter(r *cryptoerr.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithRateLimiter limits key generation per user.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithWorkers sets the worker pool size used by GenerateKeys.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithSecretOptions passes options to every SecretBuffer holding a private
// key, for example secmem.WithMemoryLock.
func WithSecretOptions(opts ...secmem.Option) Option {
	return func(o *options) { o.secretOpts = append(o.secretOpts, opts...) }
}

func buildOptions(opts []Option) options {
	o := options{
		maxKeysPerUser:   DefaultMaxKeysPerUser,
		rotationInterval: DefaultRotationInterval,
		keyLifetime:      DefaultKeyLifetime,
		hsmTimeout:       DefaultHSMTimeout,
		workers:          DefaultWorkers,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) validate() error {
	switch {
	case o.maxKeysPerUser <= 0:
		return cryptoerr.New(cryptoerr.KindConfiguration, "max keys per user must be positive, got %d", o.maxKeysPerUser)
	case o.rotationInterval <= 0:
		return cryptoerr.New(cryptoerr.KindConfiguration, "rotation interval must be positive, got %s", o.rotationInterval)
	case o.keyLifetime <= 0:
		return cryptoerr.New(cryptoerr.KindConfiguration, "key lifetime must be positive, got %s", o.keyLifetime)
	case o.hsmTimeout <= 0:
		return cryptoerr.New(cryptoerr.KindConfiguration, "hsm timeout must be positive, got %s", o.hsmTimeout)
	case o.workers <= 0:
		return cryptoerr.New(cryptoerr.KindConfiguration, "workers must be positive, got %d", o.workers)
	case o.now == nil:
		return cryptoerr.New(cryptoerr.KindConfiguration, "clock must not be nil")
	}
	return nil
}
