// lifecycle.go: Plugin lifecycle manager with dependency-ordered startup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/felixgeelhaar/statekit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Lifecycle state machine events.
const (
	eventLoad    = "LOAD"
	eventInit    = "INITIALIZE"
	eventStart   = "START"
	eventRun     = "RUN"
	eventStop    = "STOP"
	eventStopped = "STOPPED"
	eventFail    = "FAIL"
)

// pluginMachineContext is the statekit context for one plugin's machine.
type pluginMachineContext struct {
	Name string
}

// buildPluginMachine constructs the per-plugin lifecycle state machine.
// The machine is the single authority on which transitions are legal;
// the manager sends events and checks the resulting state, so an illegal
// request surfaces as InvalidTransition instead of silently proceeding.
func buildPluginMachine(name string) (*statekit.Interpreter[pluginMachineContext], error) {
	machine, err := statekit.NewMachine[pluginMachineContext]("plugin-" + name).
		WithInitial(statekit.StateID(StateDiscovered)).
		WithContext(pluginMachineContext{Name: name}).
		State(statekit.StateID(StateDiscovered)).
		On(eventLoad).Target(statekit.StateID(StateLoaded)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateLoaded)).
		On(eventInit).Target(statekit.StateID(StateInitialized)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateInitialized)).
		On(eventStart).Target(statekit.StateID(StateStarted)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateStarted)).
		On(eventRun).Target(statekit.StateID(StateRunning)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateRunning)).
		On(eventStop).Target(statekit.StateID(StateStopping)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateStopping)).
		On(eventStopped).Target(statekit.StateID(StateStopped)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateStopped)).
		On(eventFail).Target(statekit.StateID(StateFailed)).Done().
		State(statekit.StateID(StateFailed)).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// managedPlugin is the manager's record of one plugin.
type managedPlugin struct {
	manifest *PluginManifest
	plugin   Plugin
	pctx     *PluginContext
	interp   *statekit.Interpreter[pluginMachineContext]

	mu         sync.RWMutex
	lastErr    error
	lastHealth HealthStatus
	startedAt  time.Time
}

func (mp *managedPlugin) state() PluginState {
	return PluginState(mp.interp.State().Value)
}

func (mp *managedPlugin) recordError(err error) {
	mp.mu.Lock()
	mp.lastErr = err
	mp.mu.Unlock()
}

// LifecycleOptions tunes the lifecycle manager.
type LifecycleOptions struct {
	// InitTimeout bounds each plugin's Initialize call.
	InitTimeout time.Duration

	// StartTimeout bounds each plugin's Start call.
	StartTimeout time.Duration

	// StopTimeout bounds each plugin's Stop call.
	StopTimeout time.Duration

	// MaxParallelStarts bounds how many plugins of one dependency layer
	// start concurrently.
	MaxParallelStarts int
}

// DefaultLifecycleOptions returns production defaults.
func DefaultLifecycleOptions() LifecycleOptions {
	return LifecycleOptions{
		InitTimeout:       30 * time.Second,
		StartTimeout:      30 * time.Second,
		StopTimeout:       15 * time.Second,
		MaxParallelStarts: 4,
	}
}

// LifecycleManager drives plugins through their lifecycle.
//
// Startup is dependency-ordered: the capability graph is cut into layers
// and each layer starts in parallel, bounded by MaxParallelStarts. A
// non-critical plugin failing is isolated - its transitive dependents
// are marked failed without starting, everything else proceeds. A
// critical plugin failing aborts startup and rolls the already-running
// plugins back down. Shutdown walks the layers in reverse so no plugin
// outlives a capability it depends on.
type LifecycleManager struct {
	logger   Logger
	registry *ServiceRegistry
	catalog  *ServiceCatalog
	config   *ConfigProvider
	metrics  MetricsCollector
	options  LifecycleOptions

	mu        sync.RWMutex
	factories map[string]PluginFactory
	plugins   map[string]*managedPlugin
	graph     *DependencyGraph
	manifests map[string]*PluginManifest
	schemas   map[string]ConfigValidator
}

// NewLifecycleManager creates a manager wired to the shared runtime
// components.
func NewLifecycleManager(registry *ServiceRegistry, catalog *ServiceCatalog, config *ConfigProvider, metrics MetricsCollector, logger any, options LifecycleOptions) *LifecycleManager {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	lm := &LifecycleManager{
		logger:    NewLogger(logger),
		registry:  registry,
		catalog:   catalog,
		config:    config,
		metrics:   metrics,
		options:   options,
		factories: make(map[string]PluginFactory),
		plugins:   make(map[string]*managedPlugin),
		manifests: make(map[string]*PluginManifest),
		schemas:   make(map[string]ConfigValidator),
	}
	if catalog != nil {
		catalog.SetStateReporter(func(plugin string) (PluginState, bool) {
			mp := lm.lookup(plugin)
			if mp == nil {
				return "", false
			}
			return mp.state(), true
		})
	}
	return lm
}

// RegisterConfigSchema binds a named validation schema that manifests may
// reference through their config_schema field. Must be registered before
// Load sees a manifest naming it.
func (lm *LifecycleManager) RegisterConfigSchema(name string, validator ConfigValidator) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.schemas[name] = validator
}

// RegisterFactory binds a constructor to a plugin name. Must happen
// before Load sees a manifest with that name.
func (lm *LifecycleManager) RegisterFactory(name string, factory PluginFactory) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.factories[name] = factory
}

// Load ingests discovered manifests: it builds the dependency graph,
// constructs each plugin through its factory, and installs manifest
// config defaults. Plugins end in Loaded; a cycle or a missing factory
// fails the whole load before any plugin is constructed or kept.
func (lm *LifecycleManager) Load(ctx context.Context, manifests []*PluginManifest) error {
	graph, err := BuildDependencyGraph(manifests)
	if err != nil {
		return err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, manifest := range manifests {
		if _, exists := lm.factories[manifest.Name]; !exists {
			return NewPluginNotFoundError(manifest.Name).
				WithContext("reason", "no factory registered for discovered plugin")
		}
	}

	for _, manifest := range manifests {
		interp, machineErr := buildPluginMachine(manifest.Name)
		if machineErr != nil {
			return NewValidationError(manifest.Name, machineErr)
		}
		interp.Start()

		instance, factoryErr := lm.factories[manifest.Name](manifest)
		if factoryErr != nil {
			interp.Send(statekit.Event{Type: eventFail})
			return NewValidationError(manifest.Name, factoryErr)
		}

		mp := &managedPlugin{
			manifest: manifest,
			plugin:   instance,
			interp:   interp,
			pctx:     newPluginContext(manifest, lm.registry, lm.catalog, lm.config, lm.logger),
		}
		interp.Send(statekit.Event{Type: eventLoad})

		lm.plugins[manifest.Name] = mp
		lm.manifests[manifest.Name] = manifest

		// Configuration schema failures block only this plugin. The
		// record stays so the status query names the cause.
		if manifest.ConfigSchema != "" {
			schema, known := lm.schemas[manifest.ConfigSchema]
			if !known {
				cfgErr := NewValidationError(manifest.Name,
					fmt.Errorf("unknown config schema %q", manifest.ConfigSchema))
				mp.interp.Send(statekit.Event{Type: eventFail})
				mp.recordError(cfgErr)
				lm.logger.Error("Plugin config schema unknown",
					"plugin", manifest.Name, "schema", manifest.ConfigSchema)
				continue
			}
			lm.config.RegisterValidator(manifest.Name, schema)
		}

		if len(manifest.Config) > 0 {
			if cfgErr := lm.config.SetDefaults(manifest.Name, manifest.Config); cfgErr != nil {
				mp.interp.Send(statekit.Event{Type: eventFail})
				mp.recordError(cfgErr)
				lm.logger.Error("Plugin config rejected",
					"plugin", manifest.Name, "error", cfgErr)
				continue
			}
		}

		lm.logger.Debug("Plugin loaded", "plugin", manifestSummary(manifest))
	}

	lm.graph = graph
	lm.logger.Info("Plugins loaded", "count", len(manifests))
	return nil
}

// StartAll starts every loaded plugin in dependency order.
//
// Layers run sequentially; plugins within a layer start concurrently up
// to MaxParallelStarts. The first critical failure cancels the remaining
// startup, stops whatever already runs, and returns CriticalFailure.
// Non-critical failures are collected: the call returns nil when at
// least the failures were isolated as designed, with per-plugin errors
// available via Status.
func (lm *LifecycleManager) StartAll(ctx context.Context) error {
	lm.mu.RLock()
	graph := lm.graph
	lm.mu.RUnlock()

	if graph == nil {
		return NewValidationError("lifecycle", fmt.Errorf("no plugins loaded"))
	}

	sem := semaphore.NewWeighted(int64(lm.options.MaxParallelStarts))

	for _, layer := range graph.Layers() {
		group, groupCtx := errgroup.WithContext(ctx)

		for _, name := range layer {
			name := name
			group.Go(func() error {
				if err := sem.Acquire(groupCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				return lm.startOne(groupCtx, name)
			})
		}

		// A layer error is always a critical failure or a cancelled
		// context; isolated failures return nil from startOne.
		if err := group.Wait(); err != nil {
			lm.logger.Error("Startup aborted", "error", err)
			stopCtx, cancel := context.WithTimeout(context.Background(), lm.options.StopTimeout*2)
			if stopErr := lm.StopAll(stopCtx); stopErr != nil {
				lm.logger.Error("Rollback shutdown incomplete", "error", stopErr)
			}
			cancel()
			return err
		}
	}

	return nil
}

// transition sends a lifecycle event and verifies the machine accepted
// it. A send the machine ignores surfaces as InvalidTransition.
func (lm *LifecycleManager) transition(mp *managedPlugin, event string, target PluginState) error {
	from := mp.state()
	mp.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	if mp.state() != target {
		return NewInvalidTransitionError(mp.manifest.Name, from, target)
	}
	return nil
}

// startOne drives a single plugin Loaded -> Running, honoring failure
// isolation. It returns an error only for critical failures; isolated
// failures are recorded on the plugin and swallowed.
func (lm *LifecycleManager) startOne(ctx context.Context, name string) error {
	mp := lm.lookup(name)
	if mp == nil {
		return NewPluginNotFoundError(name)
	}

	if mp.state() != StateLoaded {
		// Already failed (e.g. marked by a failed dependency) or already
		// started by a previous call.
		return nil
	}

	if err := lm.checkDependencies(name, mp); err != nil {
		return lm.failPlugin(mp, err)
	}

	// Initialize phase. Manifest resource hints override the defaults.
	if err := lm.runPhase(ctx, mp.manifest.initTimeout(lm.options.InitTimeout), name, "initialize", func(phaseCtx context.Context) error {
		return mp.plugin.Initialize(phaseCtx, mp.pctx)
	}); err != nil {
		return lm.failPlugin(mp, err)
	}
	if err := lm.transition(mp, eventInit, StateInitialized); err != nil {
		return lm.failPlugin(mp, err)
	}

	// Start phase.
	if err := lm.runPhase(ctx, mp.manifest.startTimeout(lm.options.StartTimeout), name, "start", func(phaseCtx context.Context) error {
		return mp.plugin.Start(phaseCtx, mp.pctx)
	}); err != nil {
		// Release whatever Start half-acquired.
		stopCtx, cancel := context.WithTimeout(context.Background(), mp.manifest.stopTimeout(lm.options.StopTimeout))
		_ = mp.plugin.Stop(stopCtx)
		cancel()
		return lm.failPlugin(mp, err)
	}
	if err := lm.transition(mp, eventStart, StateStarted); err != nil {
		return lm.failPlugin(mp, err)
	}

	// The first health probe gates visibility: the plugin becomes Running
	// and routable only once it reports itself at least degraded.
	status := lm.initialProbe(ctx, mp)
	lm.recordHealth(name, status)
	if status.Level == HealthUnhealthy || status.Level == HealthOffline {
		stopCtx, cancel := context.WithTimeout(context.Background(), lm.options.StopTimeout)
		_ = mp.plugin.Stop(stopCtx)
		cancel()
		return lm.failPlugin(mp, NewHealthCheckFailedError(name,
			fmt.Errorf("initial probe %s: %s", status.Level.String(), status.Message)))
	}
	if err := lm.transition(mp, eventRun, StateRunning); err != nil {
		return lm.failPlugin(mp, err)
	}

	mp.mu.Lock()
	mp.startedAt = timecache.CachedTime()
	mp.mu.Unlock()

	lm.catalog.SetRoutable(name, true)
	lm.metrics.IncrementCounter("hostkit_plugin_starts_total",
		map[string]string{"plugin": name}, 1)
	lm.logger.Info("Plugin running", "plugin", manifestSummary(mp.manifest))
	return nil
}

// checkDependencies verifies that every dependency plugin is running and
// every externally-required capability resolves from the host registry.
func (lm *LifecycleManager) checkDependencies(name string, mp *managedPlugin) error {
	lm.mu.RLock()
	graph := lm.graph
	lm.mu.RUnlock()

	for _, dependency := range graph.Dependencies(name) {
		dep := lm.lookup(dependency)
		if dep == nil || dep.state() != StateRunning {
			capability := lm.capabilityLinking(mp.manifest, dependency)
			return NewMissingDependencyError(name, capability).
				WithContext("provider_plugin", dependency)
		}
	}

	for _, capability := range graph.ExternalRequirements(name) {
		if !lm.registry.Has(capability) {
			return NewMissingDependencyError(name, capability)
		}
	}
	return nil
}

// initialProbe runs the gating health probe after a successful Start.
// A panicking probe counts as Offline, same as the periodic checker.
func (lm *LifecycleManager) initialProbe(ctx context.Context, mp *managedPlugin) (status HealthStatus) {
	probeCtx, cancel := context.WithTimeout(ctx, lm.options.StartTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			status = HealthStatus{Level: HealthOffline, Message: "health probe panicked"}
			status.LastCheck = timecache.CachedTime()
		}
	}()
	status = mp.plugin.Health(probeCtx)
	status.LastCheck = timecache.CachedTime()
	return status
}

// capabilityLinking names the capability through which a plugin depends
// on a provider plugin, for error context.
func (lm *LifecycleManager) capabilityLinking(manifest *PluginManifest, provider string) CapabilityType {
	lm.mu.RLock()
	providerManifest := lm.manifests[provider]
	lm.mu.RUnlock()
	if providerManifest == nil {
		return ""
	}

	provided := make(map[CapabilityType]bool, len(providerManifest.Provides))
	for _, capability := range providerManifest.Provides {
		provided[capability] = true
	}
	for _, capability := range manifest.Requires {
		if provided[capability] {
			return capability
		}
	}
	return ""
}

// failPlugin records a failure, withdraws the plugin's capabilities and
// operations, and cascades the failure to transitive dependents. For a
// critical plugin the error is returned to abort startup; otherwise the
// failure is isolated and nil is returned.
func (lm *LifecycleManager) failPlugin(mp *managedPlugin, cause error) error {
	name := mp.manifest.Name

	mp.interp.Send(statekit.Event{Type: eventFail})
	mp.recordError(cause)

	lm.catalog.SetRoutable(name, false)
	lm.catalog.DeregisterPlugin(name)
	for _, capability := range mp.manifest.Provides {
		lm.registry.Remove(capability)
	}

	lm.metrics.IncrementCounter("hostkit_plugin_failures_total",
		map[string]string{"plugin": name}, 1)
	lm.logger.Error("Plugin failed", "plugin", name, "error", cause)

	// Dependents can never start without this plugin; mark them failed
	// now so the startup layers skip them.
	lm.mu.RLock()
	graph := lm.graph
	lm.mu.RUnlock()
	for _, dependent := range graph.TransitiveDependents(name) {
		dep := lm.lookup(dependent)
		if dep == nil {
			continue
		}
		if state := dep.state(); state == StateLoaded || state == StateDiscovered {
			dep.interp.Send(statekit.Event{Type: eventFail})
			dep.recordError(NewMissingDependencyError(dependent, lm.capabilityLinking(dep.manifest, name)).
				WithContext("provider_plugin", name))
			lm.logger.Warn("Plugin skipped, dependency failed",
				"plugin", dependent,
				"failed_dependency", name)
		}
	}

	if mp.manifest.Critical {
		return NewCriticalFailureError(name, cause)
	}
	return nil
}

// runPhase executes one lifecycle phase with a deadline. The phase
// function runs in its own goroutine; on timeout the phase context is
// cancelled and LifecycleTimeout returned, without waiting further for a
// phase that ignores cancellation.
func (lm *LifecycleManager) runPhase(ctx context.Context, timeout time.Duration, name, phase string, fn func(context.Context) error) error {
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- fmt.Errorf("%s panicked: %v", phase, recovered)
			}
		}()
		done <- fn(phaseCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			lm.logger.Error("Lifecycle phase failed",
				"plugin", name, "phase", phase, "error", err)
		}
		return err
	case <-phaseCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewLifecycleTimeoutError(name, phase, timeout)
	}
}

// StopAll stops every running plugin in reverse dependency order.
// Dependents stop before their providers; layers stop sequentially with
// each layer's plugins stopped concurrently. Individual stop failures
// are logged and collected, never block the rest of shutdown.
func (lm *LifecycleManager) StopAll(ctx context.Context) error {
	lm.mu.RLock()
	graph := lm.graph
	lm.mu.RUnlock()

	if graph == nil {
		return nil
	}

	var firstErr error
	for _, layer := range graph.ReverseLayers() {
		var wg sync.WaitGroup
		errs := make([]error, len(layer))

		for i, name := range layer {
			mp := lm.lookup(name)
			if mp == nil || mp.state() != StateRunning {
				continue
			}

			wg.Add(1)
			go func(i int, name string, mp *managedPlugin) {
				defer wg.Done()
				errs[i] = lm.stopOne(ctx, name, mp)
			}(i, name, mp)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// stopOne drives a single plugin Running -> Stopped.
func (lm *LifecycleManager) stopOne(ctx context.Context, name string, mp *managedPlugin) error {
	if err := lm.transition(mp, eventStop, StateStopping); err != nil {
		return err
	}
	lm.catalog.SetRoutable(name, false)

	err := lm.runPhase(ctx, mp.manifest.stopTimeout(lm.options.StopTimeout), name, "stop", func(phaseCtx context.Context) error {
		return mp.plugin.Stop(phaseCtx)
	})

	lm.catalog.DeregisterPlugin(name)
	for _, capability := range mp.manifest.Provides {
		lm.registry.Remove(capability)
	}

	// A stop overrunning its deadline or erroring is force-marked Stopped
	// anyway: the plugin is out of service either way, and shutdown must
	// not stall on it. The unclean record survives for the status query.
	mp.interp.Send(statekit.Event{Type: eventStopped})

	if err != nil {
		wrapped := NewUncleanShutdownError(name, err)
		mp.recordError(wrapped)
		lm.logger.Error("Plugin stop unclean", "plugin", name, "error", err)
		return wrapped
	}

	lm.logger.Info("Plugin stopped", "plugin", name)
	return nil
}

// StopPlugin stops one plugin and, first, every running plugin that
// transitively depends on it, in reverse dependency order. Stopping a
// plugin that is not running fails with PluginNotRunning.
func (lm *LifecycleManager) StopPlugin(ctx context.Context, name string) error {
	mp := lm.lookup(name)
	if mp == nil {
		return NewPluginNotFoundError(name)
	}
	if state := mp.state(); state != StateRunning {
		return NewPluginNotRunningError(name, state)
	}

	lm.mu.RLock()
	graph := lm.graph
	lm.mu.RUnlock()

	// Dependents first, ordered so the deepest dependents stop earliest.
	targets := make(map[string]bool)
	for _, dependent := range graph.TransitiveDependents(name) {
		targets[dependent] = true
	}

	var firstErr error
	for _, layer := range graph.ReverseLayers() {
		for _, candidate := range layer {
			if !targets[candidate] {
				continue
			}
			dep := lm.lookup(candidate)
			if dep == nil || dep.state() != StateRunning {
				continue
			}
			if err := lm.stopOne(ctx, candidate, dep); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := lm.stopOne(ctx, name, mp); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Status returns one status record per managed plugin, sorted by the
// catalog's listing conventions (plugin name).
func (lm *LifecycleManager) Status() []PluginStatus {
	lm.mu.RLock()
	names := make([]string, 0, len(lm.plugins))
	for name := range lm.plugins {
		names = append(names, name)
	}
	lm.mu.RUnlock()

	sort.Strings(names)

	result := make([]PluginStatus, 0, len(names))
	for _, name := range names {
		mp := lm.lookup(name)
		if mp == nil {
			continue
		}

		mp.mu.RLock()
		status := PluginStatus{
			Name:       name,
			Version:    mp.manifest.Version,
			State:      mp.state(),
			LastHealth: mp.lastHealth,
		}
		if !mp.startedAt.IsZero() && status.State == StateRunning {
			status.Uptime = time.Since(mp.startedAt)
		}
		if mp.lastErr != nil {
			status.LastError = mp.lastErr.Error()
			status.ErrorCode = ErrorCode(mp.lastErr)
		}
		mp.mu.RUnlock()

		result = append(result, status)
	}
	return result
}

// PluginState returns the current lifecycle state of one plugin.
func (lm *LifecycleManager) PluginState(name string) (PluginState, error) {
	mp := lm.lookup(name)
	if mp == nil {
		return "", NewPluginNotFoundError(name)
	}
	return mp.state(), nil
}

func (lm *LifecycleManager) lookup(name string) *managedPlugin {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.plugins[name]
}

// runningPlugins implements healthProbeTargets.
func (lm *LifecycleManager) runningPlugins() map[string]Plugin {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	result := make(map[string]Plugin)
	for name, mp := range lm.plugins {
		if mp.state() == StateRunning {
			result[name] = mp.plugin
		}
	}
	return result
}

// probeInterval implements healthProbeTargets: a manifest health-interval
// hint stretches the probe cadence for that plugin.
func (lm *LifecycleManager) probeInterval(name string) time.Duration {
	lm.mu.RLock()
	manifest := lm.manifests[name]
	lm.mu.RUnlock()
	if manifest == nil || manifest.Resources == nil {
		return 0
	}
	return hintDuration(manifest.Resources.HealthInterval, 0)
}

// recordHealth implements healthProbeTargets.
func (lm *LifecycleManager) recordHealth(name string, status HealthStatus) {
	mp := lm.lookup(name)
	if mp == nil {
		return
	}
	mp.mu.Lock()
	mp.lastHealth = status
	mp.mu.Unlock()
}

// markUnhealthy implements healthProbeTargets: a plugin past the failure
// threshold is stopped and marked failed so its operations stop routing.
func (lm *LifecycleManager) markUnhealthy(name string, status HealthStatus) {
	mp := lm.lookup(name)
	if mp == nil || mp.state() != StateRunning {
		return
	}

	lm.logger.Error("Plugin marked unhealthy",
		"plugin", name,
		"level", status.Level.String(),
		"message", status.Message)

	ctx, cancel := context.WithTimeout(context.Background(), lm.options.StopTimeout)
	defer cancel()

	_ = lm.stopOne(ctx, name, mp)
	if mp.state() != StateFailed {
		mp.interp.Send(statekit.Event{Type: eventFail})
	}
	mp.recordError(NewHealthCheckFailedError(name, fmt.Errorf("%s: %s", status.Level.String(), status.Message)))
}
