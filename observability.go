// observability.go: Metrics collection and tracing hooks for operation routing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// MetricsCollector receives operation-level measurements from the
// middleware chain. Implementations must be safe for concurrent use; the
// chain records metrics on every routed request.
type MetricsCollector interface {
	// IncrementCounter adds value to a labeled counter.
	IncrementCounter(name string, labels map[string]string, value int64)

	// SetGauge sets a labeled gauge to value.
	SetGauge(name string, labels map[string]string, value float64)

	// RecordDuration observes one latency sample for a labeled timer.
	RecordDuration(name string, labels map[string]string, duration time.Duration)
}

// TracingProvider creates spans around routed operations.
type TracingProvider interface {
	// StartSpan opens a span for the operation and returns the derived
	// context carrying it.
	StartSpan(ctx context.Context, operation string) (context.Context, Span)
}

// Span is one traced unit of work.
type Span interface {
	// SetAttribute attaches a key/value pair to the span.
	SetAttribute(key string, value any)

	// SetError marks the span failed.
	SetError(err error)

	// Finish closes the span.
	Finish()
}

// InMemoryMetricsCollector aggregates metrics in process memory. It is
// the default collector and doubles as the assertion surface in tests.
type InMemoryMetricsCollector struct {
	mu        sync.RWMutex
	counters  map[string]int64
	gauges    map[string]float64
	durations map[string]*durationSeries
}

type durationSeries struct {
	count int64
	total time.Duration
	max   time.Duration
}

// NewInMemoryMetricsCollector creates an empty collector.
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		durations: make(map[string]*durationSeries),
	}
}

// IncrementCounter implements MetricsCollector.
func (c *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	c.counters[key] += value
	c.mu.Unlock()
}

// SetGauge implements MetricsCollector.
func (c *InMemoryMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	c.gauges[key] = value
	c.mu.Unlock()
}

// RecordDuration implements MetricsCollector.
func (c *InMemoryMetricsCollector) RecordDuration(name string, labels map[string]string, duration time.Duration) {
	key := metricKey(name, labels)
	c.mu.Lock()
	series := c.durations[key]
	if series == nil {
		series = &durationSeries{}
		c.durations[key] = series
	}
	series.count++
	series.total += duration
	if duration > series.max {
		series.max = duration
	}
	c.mu.Unlock()
}

// Counter returns the current value of a labeled counter.
func (c *InMemoryMetricsCollector) Counter(name string, labels map[string]string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[metricKey(name, labels)]
}

// Gauge returns the current value of a labeled gauge.
func (c *InMemoryMetricsCollector) Gauge(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[metricKey(name, labels)]
}

// DurationStats returns sample count, mean, and max for a labeled timer.
func (c *InMemoryMetricsCollector) DurationStats(name string, labels map[string]string) (count int64, mean, max time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series := c.durations[metricKey(name, labels)]
	if series == nil || series.count == 0 {
		return 0, 0, 0
	}
	return series.count, series.total / time.Duration(series.count), series.max
}

// Snapshot returns a flat copy of every counter and gauge for status
// endpoints and debugging.
func (c *InMemoryMetricsCollector) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]any, len(c.counters)+len(c.gauges))
	for key, value := range c.counters {
		snapshot[key] = value
	}
	for key, value := range c.gauges {
		snapshot[key] = value
	}
	return snapshot
}

// metricKey renders a stable identity for a metric name plus label set.
// Labels are sorted so the same set always produces the same key.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(name)
	for _, key := range keys {
		builder.WriteByte('{')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(labels[key])
		builder.WriteByte('}')
	}
	return builder.String()
}

// NoOpMetricsCollector discards all measurements.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) IncrementCounter(string, map[string]string, int64)       {}
func (NoOpMetricsCollector) SetGauge(string, map[string]string, float64)             {}
func (NoOpMetricsCollector) RecordDuration(string, map[string]string, time.Duration) {}

// LoggingTracingProvider emits span lifecycle events through the
// structured logger. It is the default tracer: good enough to correlate
// request flow in logs without an external tracing backend.
type LoggingTracingProvider struct {
	logger Logger
}

// NewLoggingTracingProvider creates a tracer bound to the given logger.
func NewLoggingTracingProvider(logger any) *LoggingTracingProvider {
	return &LoggingTracingProvider{logger: NewLogger(logger)}
}

// StartSpan implements TracingProvider.
func (t *LoggingTracingProvider) StartSpan(ctx context.Context, operation string) (context.Context, Span) {
	span := &loggingSpan{
		logger:    t.logger,
		operation: operation,
		started:   timecache.CachedTime(),
		attrs:     make(map[string]any),
	}
	return ctx, span
}

type loggingSpan struct {
	logger    Logger
	operation string
	started   time.Time

	mu       sync.Mutex
	attrs    map[string]any
	err      error
	finished bool
}

func (s *loggingSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

func (s *loggingSpan) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *loggingSpan) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	err := s.err
	attrs := s.attrs
	s.mu.Unlock()

	fields := []any{
		"operation", s.operation,
		"duration", time.Since(s.started),
	}
	for key, value := range attrs {
		fields = append(fields, key, value)
	}

	if err != nil {
		fields = append(fields, "error", err)
		s.logger.Warn("Span finished with error", fields...)
		return
	}
	s.logger.Debug("Span finished", fields...)
}

// NoOpTracingProvider produces spans that record nothing.
type NoOpTracingProvider struct{}

// StartSpan implements TracingProvider.
func (NoOpTracingProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) SetError(error)           {}
func (noopSpan) Finish()                  {}
