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

// Package health runs liveness, readiness and startup probes for pqkeyd.
//
// Liveness never depends on other components. Readiness runs every
// registered check concurrently, each under its own timeout. Startup fails
// until MarkStarted.
package health

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Status is the health of one component or of the whole daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded means the component works with reduced capacity.
	StatusDegraded Status = "degraded"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one readiness check and should honour ctx.
type CheckFunc func(ctx context.Context) CheckResult

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout sets how long a single readiness check may run.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Checker owns the registered readiness checks and the startup flag.
type Checker struct {
	timeout time.Duration
	born    time.Time

	mu      sync.RWMutex
	started bool
	checks  map[string]CheckFunc
}

// NewChecker returns a Checker with no checks registered.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		timeout: DefaultCheckTimeout,
		born:    time.Now(),
		checks:  make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck adds or replaces the check called name. Nil checks are
// ignored.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

func (c *Checker) MarkStarted()    { c.setStarted(true) }
func (c *Checker) MarkNotStarted() { c.setStarted(false) }

func (c *Checker) setStarted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = v
}

func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Live reports that the process is running.
func (c *Checker) Live(_ context.Context) CheckResult {
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("up %s", time.Since(c.born).Round(time.Second)),
	}
}

// Startup fails until MarkStarted has been called.
func (c *Checker) Startup(_ context.Context) CheckResult {
	if !c.IsStarted() {
		return CheckResult{Name: "startup", Status: StatusUnhealthy, Message: "initialization not complete"}
	}
	return CheckResult{Name: "startup", Status: StatusHealthy, Message: "initialized"}
}

// Checks returns the sorted names of all registered checks.
func (c *Checker) Checks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Ready runs every registered check and returns the results ordered by
// name. A check that outlives the timeout is reported unhealthy. With no
// checks registered a single healthy result is returned.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	names := c.Checks()
	if len(names) == 0 {
		return []CheckResult{{Name: "default", Status: StatusHealthy, Message: "no readiness checks configured"}}
	}

	c.mu.RLock()
	funcs := make([]CheckFunc, len(names))
	for i, name := range names {
		funcs[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i := range names {
		g.Go(func() error {
			results[i] = c.run(ctx, names[i], funcs[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Checker) run(parent context.Context, name string, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- check(ctx) }()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check did not finish", Error: ctx.Err().Error()}
	}
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	return result
}

// IsHealthy reports whether every readiness check is healthy.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return AggregateStatus(c.Ready(ctx)) == StatusHealthy
}

// AggregateStatus folds results into one status. Unhealthy wins over
// degraded, which wins over healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
