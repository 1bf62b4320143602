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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-pqkeys/internal/config"
	"github.com/jeremyhahn/go-pqkeys/pkg/cryptoerr"
	"github.com/jeremyhahn/go-pqkeys/pkg/health"
	"github.com/jeremyhahn/go-pqkeys/pkg/hsm"
	"github.com/jeremyhahn/go-pqkeys/pkg/lifecycle"
	"github.com/jeremyhahn/go-pqkeys/pkg/logging"
	"github.com/jeremyhahn/go-pqkeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqkeys/pkg/pqc"
	"github.com/jeremyhahn/go-pqkeys/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Server hosts the key manager together with its operational HTTP surface
// and the background sweeper.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	provider pqc.Provider
	store    hsm.ReferenceStore

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	events   *cryptoerr.MemorySink
	sink     cryptoerr.EventSink
	reporter *cryptoerr.Reporter
	limiter  *ratelimit.Limiter
	manager  *lifecycle.Manager
	health   *health.Checker

	httpServer *http.Server
	lastSweep  atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// Option configures a Server.
type Option func(*Server)

// WithProvider overrides the provider named in the configuration.
func WithProvider(p pqc.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithReferenceStore overrides the HSM store built from the configuration.
func WithReferenceStore(store hsm.ReferenceStore) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New wires the manager, metrics, event sinks and health checks described
// by cfg. Nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = setupLogger(cfg.Logging)
	}

	if s.provider == nil {
		p, err := pqc.NewProvider(cfg.Provider)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider: %w", err)
		}
		s.provider = p
	}
	if s.store == nil {
		store, err := hsm.New(cfg.HSM)
		if err != nil {
			return nil, fmt.Errorf("failed to create hsm store: %w", err)
		}
		s.store = store
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.registry)

	if err := s.initializeEvents(); err != nil {
		return nil, err
	}
	s.reporter = cryptoerr.NewReporter(
		cryptoerr.WithLogger(s.logger),
		cryptoerr.WithSink(s.sink),
		cryptoerr.WithRecorder(s.metrics),
		cryptoerr.WithSource("pqkeyd"))

	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		s.limiter = ratelimit.New(&rl)
	}

	managerOpts := append(cfg.ManagerOptions(),
		lifecycle.WithLogger(s.logger),
		lifecycle.WithMetrics(s.metrics),
		lifecycle.WithReporter(s.reporter),
		lifecycle.WithRateLimiter(s.limiter))
	if s.store != nil {
		managerOpts = append(managerOpts, lifecycle.WithReferenceStore(s.store))
	}
	manager, err := lifecycle.NewManager(s.provider, managerOpts...)
	if err != nil {
		_ = s.sink.Close()
		return nil, fmt.Errorf("failed to create key manager: %w", err)
	}
	s.manager = manager

	s.initializeHealth()
	return s, nil
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return logging.New(cfg.Level, cfg.Format, os.Stdout)
}

func (s *Server) initializeEvents() error {
	s.events = cryptoerr.NewMemorySink(s.config.Audit.Buffer)
	sinks := cryptoerr.MultiSink{s.events, cryptoerr.NewLogSink(s.logger)}
	if path := s.config.Audit.File; path != "" {
		file, err := cryptoerr.NewFileSink(path)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		sinks = append(sinks, file)
	}
	s.sink = sinks
	return nil
}

func (s *Server) initializeHealth() {
	s.health = health.NewChecker()
	s.health.RegisterCheck("provider", health.ProviderCheck(s.provider))
	if interval := s.config.Lifecycle.SweepInterval; interval > 0 {
		s.health.RegisterCheck("sweeper", health.SweepCheck(s.LastSweep, 3*interval))
	}
	s.logger.Info("Health checker initialized", "checks", len(s.health.Checks()))
}

// Manager returns the key manager.
func (s *Server) Manager() *lifecycle.Manager { return s.manager }

// Metrics returns the metrics context.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Registry returns the Prometheus registry served on the metrics path.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Reporter returns the error reporter shared by every component.
func (s *Server) Reporter() *cryptoerr.Reporter { return s.reporter }

// Health returns the health checker.
func (s *Server) Health() *health.Checker { return s.health }

// Events returns the most recent security events.
func (s *Server) Events() []cryptoerr.SecurityEvent { return s.events.Events() }

// LastSweep returns when the sweeper last completed, or the zero time.
func (s *Server) LastSweep() time.Time {
	n := s.lastSweep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run starts the background workers and serves HTTP on listener until ctx
// is cancelled, then shuts down. A nil listener listens on the configured
// address.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if listener == nil {
		l, err := net.Listen("tcp", s.config.Server.Addr())
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
		}
		listener = l
	}

	tlsConfig, err := s.config.Server.TLS.LoadTLSConfig()
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startWorkers(ctx)
	s.health.MarkStarted()
	s.logger.Info("Starting pqkeyd",
		slog.String("address", listener.Addr().String()),
		slog.String("provider", s.provider.Name()),
		slog.Bool("tls", tlsConfig != nil))

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = s.httpServer.ServeTLS(listener, "", "")
		} else {
			err = s.httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.logger.Error("HTTP server error", slog.Any("error", err))
			_ = s.Shutdown(context.Background())
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer stop()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) startWorkers(ctx context.Context) {
	collector := metrics.NewResourceCollector(s.metrics, s.manager, 15*time.Second)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		collector.Run(ctx)
	}()

	if interval := s.config.Lifecycle.SweepInterval; interval > 0 {
		sweeper := newSweeper(s.manager, s.logger, interval, s.config.Lifecycle.AutoRotate, s.markSwept)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sweeper.run(ctx)
		}()
	}
}

func (s *Server) markSwept(t time.Time) {
	s.lastSweep.Store(t.UnixNano())
}

// Shutdown stops the HTTP server and the background workers, then zeroes
// every key held by the manager. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down pqkeyd...")
	s.health.MarkNotStarted()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.limiter.Stop()
	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.reporter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event sinks: %w", err))
	}
	s.logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
