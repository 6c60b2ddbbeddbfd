// runtime.go: Runtime composition root tying discovery, lifecycle, and routing together
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Environment variables consulted by DefaultRuntimeOptions.
const (
	envWorkers          = "HOSTKIT_WORKERS"
	envHealthInterval   = "HOSTKIT_HEALTH_INTERVAL"
	envShutdownDeadline = "HOSTKIT_SHUTDOWN_DEADLINE"
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Logger receives all runtime logging. Accepts anything NewLogger
	// accepts; nil selects the default zerolog console logger.
	Logger any

	// Metrics receives runtime measurements. Nil selects the in-memory
	// collector.
	Metrics MetricsCollector

	// Tracer creates spans around routed operations. Nil selects the
	// logging tracer.
	Tracer TracingProvider

	// Events receives one OperationEvent per completed routed call. Nil
	// disables publication.
	Events EventPublisher

	// EnvPrefix scopes configuration environment variables. Defaults to
	// "HOSTKIT".
	EnvPrefix string

	// ConfigFile optionally points at a configuration file to load and
	// hot-reload.
	ConfigFile string

	// ConfigWatch enables hot reload of ConfigFile.
	ConfigWatch bool

	// Lifecycle tunes plugin start/stop behavior.
	Lifecycle LifecycleOptions

	// Health tunes the health probe loop. A zero Interval disables
	// health checking.
	Health HealthCheckerOptions

	// ShutdownDeadline bounds the whole Shutdown sequence.
	ShutdownDeadline time.Duration
}

// DefaultRuntimeOptions returns production defaults, honoring the
// HOSTKIT_WORKERS, HOSTKIT_HEALTH_INTERVAL, and HOSTKIT_SHUTDOWN_DEADLINE
// environment variables when set.
func DefaultRuntimeOptions() RuntimeOptions {
	opts := RuntimeOptions{
		EnvPrefix:        "HOSTKIT",
		Lifecycle:        DefaultLifecycleOptions(),
		Health:           DefaultHealthCheckerOptions(),
		ShutdownDeadline: 60 * time.Second,
	}

	if raw := os.Getenv(envWorkers); raw != "" {
		if workers, err := strconv.Atoi(raw); err == nil && workers > 0 {
			opts.Lifecycle.MaxParallelStarts = workers
		}
	}
	if raw := os.Getenv(envHealthInterval); raw != "" {
		if interval, err := time.ParseDuration(raw); err == nil && interval > 0 {
			opts.Health.Interval = interval
		}
	}
	if raw := os.Getenv(envShutdownDeadline); raw != "" {
		if deadline, err := time.ParseDuration(raw); err == nil && deadline > 0 {
			opts.ShutdownDeadline = deadline
		}
	}
	return opts
}

// Runtime is the composition root of a plugin host.
//
// Each Runtime owns its own registry, catalog, configuration, and
// lifecycle manager; nothing is process-global, so several runtimes can
// coexist in one process (the property the tests lean on). The intended
// call order is: construct, register factories and capabilities, add
// discovery sources, Start, route traffic, Shutdown.
type Runtime struct {
	logger    Logger
	metrics   MetricsCollector
	options   RuntimeOptions
	registry  *ServiceRegistry
	catalog   *ServiceCatalog
	chain     *MiddlewareChain
	config    *ConfigProvider
	discovery *DiscoveryEngine
	lifecycle *LifecycleManager
	health    *HealthChecker
	watcher   *ConfigWatcher

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewRuntime assembles a runtime from options.
func NewRuntime(options RuntimeOptions) (*Runtime, error) {
	var logger Logger
	if options.Logger == nil {
		logger = NewConsoleLogger()
	} else {
		logger = NewLogger(options.Logger)
	}

	metrics := options.Metrics
	if metrics == nil {
		metrics = NewInMemoryMetricsCollector()
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = NewLoggingTracingProvider(logger)
	}
	if options.EnvPrefix == "" {
		options.EnvPrefix = "HOSTKIT"
	}
	if options.Lifecycle.MaxParallelStarts <= 0 {
		options.Lifecycle = DefaultLifecycleOptions()
	}
	if options.ShutdownDeadline <= 0 {
		options.ShutdownDeadline = 60 * time.Second
	}

	registry := NewServiceRegistry(logger)
	chain := NewMiddlewareChain(logger, metrics, tracer)
	if options.Events != nil {
		chain.SetEventPublisher(options.Events)
	}
	catalog := NewServiceCatalog(registry, chain, logger)
	config := NewConfigProvider(options.EnvPrefix, logger)
	lifecycle := NewLifecycleManager(registry, catalog, config, metrics, logger, options.Lifecycle)

	rt := &Runtime{
		logger:    logger,
		metrics:   metrics,
		options:   options,
		registry:  registry,
		catalog:   catalog,
		chain:     chain,
		config:    config,
		discovery: NewDiscoveryEngine(logger),
		lifecycle: lifecycle,
	}

	if options.Health.Interval > 0 {
		rt.health = NewHealthChecker(lifecycle, logger, metrics, options.Health)
	}

	if options.ConfigFile != "" {
		if options.ConfigWatch {
			watcher, err := NewConfigWatcher(config, options.ConfigFile, logger, DefaultConfigWatcherOptions())
			if err != nil {
				return nil, err
			}
			rt.watcher = watcher
		} else if err := config.LoadFile(options.ConfigFile); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// Registry returns the runtime's service registry, for host-side
// capability registration before Start.
func (rt *Runtime) Registry() *ServiceRegistry { return rt.registry }

// Catalog returns the service catalog, the routing surface for the
// hosting process.
func (rt *Runtime) Catalog() *ServiceCatalog { return rt.catalog }

// Config returns the configuration provider.
func (rt *Runtime) Config() *ConfigProvider { return rt.config }

// Metrics returns the metrics collector the runtime records into.
func (rt *Runtime) Metrics() MetricsCollector { return rt.metrics }

// AddSource attaches a plugin discovery source. Must be called before
// Start.
func (rt *Runtime) AddSource(source ManifestSource) {
	rt.discovery.AddSource(source)
}

// RegisterFactory binds a plugin constructor to a plugin name. Must be
// called before Start for every plugin discovery will find.
func (rt *Runtime) RegisterFactory(name string, factory PluginFactory) {
	rt.lifecycle.RegisterFactory(name, factory)
}

// RegisterConfigSchema binds a named config validation schema that plugin
// manifests may reference via config_schema. Must be called before Start.
func (rt *Runtime) RegisterConfigSchema(name string, validator ConfigValidator) {
	rt.lifecycle.RegisterConfigSchema(name, validator)
}

// Start discovers, loads, and starts every plugin, then begins health
// checking and configuration watching. Idempotent: a second call is a
// no-op returning nil. A critical plugin failure rolls back and returns
// the failure; the runtime can be started again after the cause is
// fixed only by building a fresh Runtime.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.started.CompareAndSwap(false, true) {
		return nil
	}

	manifests, err := rt.discovery.Discover(ctx)
	if err != nil {
		rt.started.Store(false)
		return err
	}

	if err := rt.lifecycle.Load(ctx, manifests); err != nil {
		rt.started.Store(false)
		return err
	}

	if err := rt.lifecycle.StartAll(ctx); err != nil {
		rt.started.Store(false)
		return err
	}

	if rt.health != nil {
		rt.health.Start()
	}
	if rt.watcher != nil {
		if err := rt.watcher.Start(); err != nil {
			rt.logger.Error("Config watcher failed to start, hot reload disabled", "error", err)
		}
	}

	rt.logger.Info("Runtime started", "plugins", len(manifests))
	return nil
}

// Shutdown stops everything: health checking, config watching, then all
// plugins in reverse dependency order, bounded by ShutdownDeadline.
// Safe to call multiple times.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var err error
	rt.stopOnce.Do(func() {
		rt.stopped.Store(true)

		if rt.health != nil {
			rt.health.Stop()
		}
		if rt.watcher != nil {
			if stopErr := rt.watcher.Stop(); stopErr != nil {
				rt.logger.Warn("Config watcher stop failed", "error", stopErr)
			}
		}

		stopCtx, cancel := context.WithTimeout(ctx, rt.options.ShutdownDeadline)
		defer cancel()

		err = rt.lifecycle.StopAll(stopCtx)
		rt.logger.Info("Runtime shut down")
	})
	return err
}

// Reload forces a configuration rebuild, exactly as a detected file
// change would.
func (rt *Runtime) Reload() error {
	return rt.config.Reload()
}

// Status returns the status of every managed plugin.
func (rt *Runtime) Status() []PluginStatus {
	return rt.lifecycle.Status()
}

// Route dispatches a request to an operation through the middleware
// chain. Convenience passthrough to the catalog.
func (rt *Runtime) Route(ctx context.Context, operation string, req Request) (Response, error) {
	return rt.catalog.Route(ctx, operation, req)
}

// DrainPlugin stops routing to a plugin's operations while leaving the
// plugin running, for graceful traffic removal ahead of StopPlugin.
func (rt *Runtime) DrainPlugin(name string) error {
	if state, err := rt.lifecycle.PluginState(name); err != nil {
		return err
	} else if state != StateRunning {
		return NewPluginNotRunningError(name, state)
	}

	rt.catalog.SetRoutable(name, false)
	rt.logger.Info("Plugin drained", "plugin", name)
	return nil
}

// StopPlugin stops one plugin and its running dependents.
func (rt *Runtime) StopPlugin(ctx context.Context, name string) error {
	return rt.lifecycle.StopPlugin(ctx, name)
}
