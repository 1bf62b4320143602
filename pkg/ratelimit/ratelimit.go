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

// Package ratelimit implements per-caller token bucket rate limiting for key
// lifecycle operations and the HTTP surface.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"golang.org/x/time/rate"
)

const (
	defaultCleanupInterval = 10 * time.Minute
	defaultMaxIdle         = 30 * time.Minute
)

// Config holds rate limiter configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained rate granted to each caller.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst defaults to RequestsPerMinute.
	Burst int `yaml:"burst"`

	// Idle callers are forgotten after MaxIdle, checked every
	// CleanupInterval.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxIdle         time.Duration `yaml:"max_idle"`
}

// Stats is a snapshot of limiter state.
type Stats struct {
	Enabled   bool    `json:"enabled"`
	Callers   int     `json:"callers"`
	PerMinute float64 `json:"per_minute"`
	Burst     int     `json:"burst"`
}

type bucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// Limiter keeps one token bucket per caller. A nil or disabled Limiter
// allows everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	enabled bool
	maxIdle time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a Limiter for cfg. An enabled limiter runs a janitor
// goroutine until Stop.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	l := &Limiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   burst,
		enabled: cfg.Enabled,
		maxIdle: durationOr(cfg.MaxIdle, defaultMaxIdle),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if l.enabled {
		go l.janitor(durationOr(cfg.CleanupInterval, defaultCleanupInterval))
	}
	return l
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (l *Limiter) bucketFor(caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caller] = b
	}
	b.seen = time.Now()
	return b.tokens
}

// Enabled reports whether requests are being limited.
func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes a token for caller and reports whether one was available.
func (l *Limiter) Allow(caller string) bool {
	if !l.Enabled() {
		return true
	}
	return l.bucketFor(caller).Allow()
}

// Check is Allow returning a RateLimit error naming the caller and
// operation when the request is refused.
func (l *Limiter) Check(caller, operation string) error {
	if l.Allow(caller) {
		return nil
	}
	return cryptoerr.New(cryptoerr.KindRateLimit, "rate limit exceeded").
		WithUser(caller).
		WithOperation(operation)
}

// Wait blocks until caller has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, caller string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.bucketFor(caller).Wait(ctx); err != nil {
		return cryptoerr.Wrap(cryptoerr.KindRateLimit, err, "rate limit wait").WithUser(caller)
	}
	return nil
}

func (l *Limiter) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.forgetIdle(time.Now())
		case <-l.stop:
			return
		}
	}
}

// forgetIdle drops callers not seen since now minus maxIdle and returns how
// many were dropped.
func (l *Limiter) forgetIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for caller, b := range l.buckets {
		if now.Sub(b.seen) > l.maxIdle {
			delete(l.buckets, caller)
			n++
		}
	}
	return n
}

// Stop ends the janitor. It is safe to call more than once and on nil.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Enabled:   l.enabled,
		Callers:   len(l.buckets),
		PerMinute: float64(l.limit) * 60,
		Burst:     l.burst,
	}
}

// DeniedFunc writes the response for a refused request.
type DeniedFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware limits requests per client address. denied writes the refusal;
// nil writes a plain 429.
func Middleware(l *Limiter, denied DeniedFunc) func(http.Handler) http.Handler {
	if denied == nil {
		denied = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.Check(ClientAddr(r), "http"); err != nil {
				denied(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientAddr returns the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func ClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
