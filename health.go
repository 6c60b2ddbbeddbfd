// health.go: Periodic health probing for running plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// HealthCheckerOptions tunes the probe loop.
type HealthCheckerOptions struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout bounds a single plugin's Health call.
	Timeout time.Duration

	// FailureThreshold is how many consecutive Unhealthy or Offline
	// results mark a plugin failed. Zero disables failure marking;
	// statuses are still recorded.
	FailureThreshold int
}

// DefaultHealthCheckerOptions returns the standard probe cadence.
func DefaultHealthCheckerOptions() HealthCheckerOptions {
	return HealthCheckerOptions{
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// healthProbeTargets supplies the checker with the plugins to probe and
// receives the verdicts. The lifecycle manager implements it.
type healthProbeTargets interface {
	// runningPlugins returns the plugin instances currently in Running.
	runningPlugins() map[string]Plugin

	// probeInterval returns the per-plugin cadence hint; zero means the
	// checker's global interval applies.
	probeInterval(name string) time.Duration

	// recordHealth stores a probe result for a plugin.
	recordHealth(name string, status HealthStatus)

	// markUnhealthy is called when a plugin crosses the failure
	// threshold.
	markUnhealthy(name string, status HealthStatus)
}

// HealthChecker probes running plugins on a fixed interval.
//
// Each probe calls Plugin.Health with a bounded context and records the
// result with its observed response time. Consecutive bad results are
// counted per plugin; crossing the threshold notifies the lifecycle
// manager, which owns the resulting state transition. The checker is
// start-once, stop-once.
type HealthChecker struct {
	targets healthProbeTargets
	logger  Logger
	metrics MetricsCollector
	options HealthCheckerOptions

	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	mu        sync.Mutex
	failures  map[string]int
	lastProbe map[string]time.Time
}

// NewHealthChecker creates a checker bound to the given targets.
func NewHealthChecker(targets healthProbeTargets, logger any, metrics MetricsCollector, options HealthCheckerOptions) *HealthChecker {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &HealthChecker{
		targets:  targets,
		logger:   NewLogger(logger),
		metrics:  metrics,
		options:  options,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		failures:  make(map[string]int),
		lastProbe: make(map[string]time.Time),
	}
}

// Start launches the probe loop. Idempotent; a checker that has been
// stopped stays stopped.
func (hc *HealthChecker) Start() {
	if hc.stopped.Load() {
		return
	}
	if !hc.running.CompareAndSwap(false, true) {
		return
	}

	go hc.probeLoop()
	hc.logger.Info("Health checker started",
		"interval", hc.options.Interval,
		"timeout", hc.options.Timeout)
}

// Stop terminates the probe loop and waits for it to drain. Safe to call
// multiple times; a checker cannot be restarted after Stop.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		hc.stopped.Store(true)
		if !hc.running.Load() {
			close(hc.doneChan)
		}
		close(hc.stopChan)
		<-hc.doneChan
		hc.running.Store(false)
		hc.logger.Info("Health checker stopped")
	})
}

func (hc *HealthChecker) probeLoop() {
	defer close(hc.doneChan)

	ticker := time.NewTicker(hc.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopChan:
			return
		case <-ticker.C:
			hc.probeAll()
		}
	}
}

// probeAll runs one probe round over every running plugin.
func (hc *HealthChecker) probeAll() {
	for name, plugin := range hc.targets.runningPlugins() {
		select {
		case <-hc.stopChan:
			return
		default:
		}

		// Honor a per-plugin cadence hint that is slower than the loop.
		if hint := hc.targets.probeInterval(name); hint > hc.options.Interval {
			hc.mu.Lock()
			last := hc.lastProbe[name]
			hc.mu.Unlock()
			if !last.IsZero() && timecache.CachedTime().Sub(last) < hint {
				continue
			}
		}
		hc.probe(name, plugin)
	}
}

func (hc *HealthChecker) probe(name string, plugin Plugin) {
	ctx, cancel := context.WithTimeout(context.Background(), hc.options.Timeout)
	defer cancel()

	started := timecache.CachedTime()
	hc.mu.Lock()
	hc.lastProbe[name] = started
	hc.mu.Unlock()

	// The probe runs in its own goroutine so a Health implementation that
	// ignores its context cannot wedge the loop. A late result from an
	// overrunning probe is discarded.
	resultChan := make(chan HealthStatus, 1)
	go func() {
		resultChan <- hc.safeHealth(ctx, name, plugin)
	}()

	var status HealthStatus
	stuck := false
	select {
	case status = <-resultChan:
	case <-ctx.Done():
		stuck = true
		status = HealthStatus{
			Level:   HealthOffline,
			Message: fmt.Sprintf("health probe exceeded %s timeout", hc.options.Timeout),
		}
	}
	status.ResponseTime = time.Since(started)
	status.LastCheck = timecache.CachedTime()

	hc.targets.recordHealth(name, status)
	hc.metrics.SetGauge("hostkit_plugin_health",
		map[string]string{"plugin": name}, float64(status.Level))
	hc.metrics.RecordDuration("hostkit_health_probe_duration",
		map[string]string{"plugin": name}, status.ResponseTime)

	// A stuck probe is demoted immediately: the plugin is unresponsive,
	// and waiting out the consecutive-failure threshold would keep routing
	// to it.
	if stuck {
		hc.logger.Error("Plugin health probe stuck",
			"plugin", name,
			"timeout", hc.options.Timeout)
		hc.targets.markUnhealthy(name, status)
		return
	}

	failing := status.Level == HealthUnhealthy || status.Level == HealthOffline

	hc.mu.Lock()
	if !failing {
		hc.failures[name] = 0
		hc.mu.Unlock()
		return
	}
	hc.failures[name]++
	count := hc.failures[name]
	hc.mu.Unlock()

	hc.logger.Warn("Plugin health probe failed",
		"plugin", name,
		"level", status.Level.String(),
		"message", status.Message,
		"consecutive_failures", count)

	if hc.options.FailureThreshold > 0 && count >= hc.options.FailureThreshold {
		hc.targets.markUnhealthy(name, status)
	}
}

// safeHealth calls Plugin.Health with panic containment. A panicking
// probe counts as Offline.
func (hc *HealthChecker) safeHealth(ctx context.Context, name string, plugin Plugin) (status HealthStatus) {
	defer func() {
		if recovered := recover(); recovered != nil {
			hc.logger.Error("Health probe panicked", "plugin", name, "panic", recovered)
			status = HealthStatus{
				Level:   HealthOffline,
				Message: "health probe panicked",
			}
		}
	}()
	return plugin.Health(ctx)
}

// forget clears the consecutive-failure count for a plugin, called when
// it stops or restarts.
func (hc *HealthChecker) forget(name string) {
	hc.mu.Lock()
	delete(hc.failures, name)
	delete(hc.lastProbe, name)
	hc.mu.Unlock()
}
