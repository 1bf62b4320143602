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

// Package metrics provides Prometheus instrumentation for go-pqkeys.
//
// Unlike a package level registry, every Metrics value owns its collectors
// and registers them with the Registerer it is given, so several managers
// or boundaries can run in one process (and in one test binary) without
// sharing counters. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus namespace for all go-pqkeys metrics
	Namespace = "pqkeys"

	// Label names
	LabelOperation  = "operation"
	LabelAlgorithm  = "algorithm"
	LabelStatus     = "status"
	LabelCode       = "code"
	LabelKeyStatus  = "key_status"
	LabelEventType  = "event_type"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpGenerate    = "generate"
	OpRotate      = "rotate"
	OpRevoke      = "revoke"
	OpExpire      = "expire"
	OpCleanup     = "cleanup"
	OpAutoRotate  = "auto_rotate"
	OpEncapsulate = "encapsulate"
	OpDecapsulate = "decapsulate"
	OpSign        = "sign"
	OpVerify      = "verify"
	OpHSMStore    = "hsm_store"
	OpHSMRemove   = "hsm_remove"
)

// Metrics holds the collectors of one go-pqkeys instance.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	keys               *prometheus.GaugeVec
	buffersOutstanding prometheus.Gauge
	securityEvents     *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	goroutines         prometheus.Gauge
	memoryAllocBytes   prometheus.Gauge
	uptime             prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Total number of key and crypto operations by type, algorithm and status",
			},
			[]string{LabelOperation, LabelAlgorithm, LabelStatus},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of key and crypto operations in seconds",
				Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{LabelOperation, LabelAlgorithm},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "errors_total",
				Help:      "Total number of reported errors by operation and error code",
			},
			[]string{LabelOperation, LabelCode},
		),
		keys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "keys",
				Help:      "Number of registered keys by lifecycle status",
			},
			[]string{LabelKeyStatus},
		),
		buffersOutstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "secret_buffers_outstanding",
				Help:      "Secret buffers handed across the native boundary and not yet freed",
			},
		),
		securityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "security_events_total",
				Help:      "Total number of security events by type",
			},
			[]string{LabelEventType},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route, method and status code",
			},
			[]string{LabelRoute, LabelMethod, LabelStatusCode},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelRoute, LabelMethod},
		),
		goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),
		memoryAllocBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "memory_alloc_bytes",
				Help:      "Current bytes of allocated heap objects",
			},
		),
		uptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the instance started",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal, m.operationDuration, m.errorsTotal, m.keys,
		m.buffersOutstanding, m.securityEvents, m.httpRequests, m.httpDuration,
		m.goroutines, m.memoryAllocBytes, m.uptime,
	}
}

// RecordOperation records one operation and its duration.
//
// Example:
//
//	start := time.Now()
//	_, err := manager.GenerateKey(user, pqc.KEM768)
//	m.RecordOperation(metrics.OpGenerate, "ML-KEM-768", start, err)
func (m *Metrics) RecordOperation(operation, algorithm string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.operationsTotal.WithLabelValues(operation, algorithm, status).Inc()
	m.operationDuration.WithLabelValues(operation, algorithm).Observe(time.Since(start).Seconds())
}

// RecordError counts an error by its stable code.
func (m *Metrics) RecordError(operation, code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordSecurityEvent counts a security event.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(eventType).Inc()
}

// SetKeyCounts replaces the per status key gauges.
func (m *Metrics) SetKeyCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.keys.Reset()
	for status, n := range counts {
		m.keys.WithLabelValues(status).Set(float64(n))
	}
}

// SetBuffersOutstanding sets the outstanding boundary buffer gauge.
func (m *Metrics) SetBuffersOutstanding(n int) {
	if m == nil {
		return
	}
	m.buffersOutstanding.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
// route is the matched route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(route, method, statusCode string, duration float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, statusCode).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration)
}
