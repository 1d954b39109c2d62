// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for fproxy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	ReasonPartial     = "partial"
	ReasonSend        = "send"
	ReasonCircuitOpen = "circuit_open"
)

// Metrics holds all Prometheus metrics for fproxy.
type Metrics struct {
	// Message metrics
	MessagesReceived  *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessageSize       *prometheus.HistogramVec
	ForwardDuration   *prometheus.HistogramVec

	// Proxy lifecycle
	ProxyState *prometheus.GaugeVec

	// Hook metrics
	HookDuration *prometheus.HistogramVec
	HookFailures *prometheus.CounterVec
	HookSkipped  *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Resource metrics
	GoroutinesActive *prometheus.GaugeVec
	MemoryAllocated  *prometheus.GaugeVec

	namespace string
	factory   promauto.Factory
}

// New creates a new Metrics instance with all counters, gauges, and histograms
// registered on reg. A nil reg uses the default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "fproxy"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		namespace: namespace,
		factory:   factory,
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of messages received on the inbound endpoint",
			},
			[]string{"proxy"},
		),
		MessagesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_forwarded_total",
				Help:      "Total number of messages sent on the outbound endpoint",
			},
			[]string{"proxy"},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Total number of messages dropped by the forward loop",
			},
			[]string{"proxy", "reason"},
		),
		MessageSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_size_bytes",
				Help:      "Size of forwarded messages (topic and payload) in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"proxy"},
		),
		ForwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_duration_seconds",
				Help:      "Time from receiving a message to completing its send, in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"proxy"},
		),
		ProxyState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_state",
				Help:      "Proxy state (0=created, 1=running, 2=cancelling, 3=stopped)",
			},
			[]string{"proxy"},
		),
		HookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hook_duration_seconds",
				Help:      "Interception hook duration in seconds",
				Buckets:   []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"hook"},
		),
		HookFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_failures_total",
				Help:      "Total number of interception hook failures",
			},
			[]string{"hook"},
		),
		HookSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_skipped_total",
				Help:      "Total number of messages forwarded without calling a sampled hook",
			},
			[]string{"hook", "reason"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"endpoint"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"endpoint"},
		),
		GoroutinesActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_active",
				Help:      "Number of active goroutines by component",
			},
			[]string{"component"},
		),
		MemoryAllocated: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_allocated_bytes",
				Help:      "Memory allocated in bytes",
			},
			[]string{"type"},
		),
	}

	return m
}

// ObserveForward tracks one message from receipt to send. f returns the drop
// reason, or "" when the message was forwarded.
func (m *Metrics) ObserveForward(proxy string, size int, f func() string) {
	start := time.Now()
	m.MessagesReceived.WithLabelValues(proxy).Inc()

	reason := f()
	if reason != "" {
		m.MessagesDropped.WithLabelValues(proxy, reason).Inc()
		return
	}

	m.MessagesForwarded.WithLabelValues(proxy).Inc()
	m.MessageSize.WithLabelValues(proxy).Observe(float64(size))
	m.ForwardDuration.WithLabelValues(proxy).Observe(time.Since(start).Seconds())
}

// ObserveHook tracks one hook invocation.
func (m *Metrics) ObserveHook(name string, f func() error) error {
	start := time.Now()

	err := f()
	m.HookDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		m.HookFailures.WithLabelValues(name).Inc()
	}

	return err
}

// CounterFunc registers a counter whose value is read from f on every scrape.
// It exports counters that components keep on their own.
func (m *Metrics) CounterFunc(name, help string, f func() uint64) prometheus.CounterFunc {
	return m.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(f()) },
	)
}
