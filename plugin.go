// plugin.go: Plugin contract and the per-plugin runtime context
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"fmt"
)

// Plugin is the contract a managed plugin implements.
//
// The lifecycle manager drives the methods in order: Initialize once
// after construction, Start once after every dependency is running, Stop
// once during shutdown or failure handling. Health may be called at any
// time between Start and Stop. All methods must honor context
// cancellation; the manager enforces per-phase deadlines.
type Plugin interface {
	// Initialize prepares the plugin and registers its provided
	// capabilities through the context. Dependencies may not be resolved
	// yet; resolution belongs in Start.
	Initialize(ctx context.Context, pctx *PluginContext) error

	// Start resolves dependencies, exposes operations, and begins work.
	// When Start returns nil the plugin is considered Running.
	Start(ctx context.Context, pctx *PluginContext) error

	// Stop halts work and releases resources. Called at most once after
	// a successful Start, and also after a failed Start so partially
	// acquired resources are released.
	Stop(ctx context.Context) error

	// Health reports the plugin's current condition.
	Health(ctx context.Context) HealthStatus
}

// PluginFactory constructs a plugin instance from its manifest. The
// hosting process registers one factory per plugin name before startup.
type PluginFactory func(manifest *PluginManifest) (Plugin, error)

// PluginContext is the runtime surface handed to a plugin. It scopes
// everything to the owning plugin: capability registration is checked
// against the manifest's provides list, configuration is the plugin's
// own section, and the logger carries the plugin name on every line.
type PluginContext struct {
	manifest *PluginManifest
	registry *ServiceRegistry
	catalog  *ServiceCatalog
	config   *ConfigProvider
	logger   Logger

	provided map[CapabilityType]bool
}

func newPluginContext(manifest *PluginManifest, registry *ServiceRegistry, catalog *ServiceCatalog, config *ConfigProvider, logger Logger) *PluginContext {
	provided := make(map[CapabilityType]bool, len(manifest.Provides))
	for _, capability := range manifest.Provides {
		provided[capability] = true
	}
	return &PluginContext{
		manifest: manifest,
		registry: registry,
		catalog:  catalog,
		config:   config,
		logger:   logger.With("plugin", manifest.Name),
		provided: provided,
	}
}

// Name returns the owning plugin's name.
func (pc *PluginContext) Name() string { return pc.manifest.Name }

// Manifest returns the plugin's manifest.
func (pc *PluginContext) Manifest() *PluginManifest { return pc.manifest }

// Logger returns a logger pre-tagged with the plugin name.
func (pc *PluginContext) Logger() Logger { return pc.logger }

// Resolve resolves a capability from the shared registry.
func (pc *PluginContext) Resolve(capability CapabilityType) (any, error) {
	return pc.registry.Resolve(capability)
}

// ResolveOptional resolves a capability, reporting absence instead of
// erroring.
func (pc *PluginContext) ResolveOptional(capability CapabilityType) (any, bool) {
	return pc.registry.ResolveOptional(capability)
}

// Has reports whether a capability is currently registered.
func (pc *PluginContext) Has(capability CapabilityType) bool {
	return pc.registry.Has(capability)
}

// RegisterCapability registers a provider for a capability this plugin
// declares in its manifest. Registering an undeclared capability fails:
// the dependency graph was built from the manifest, and an undeclared
// registration would bypass its ordering guarantees.
func (pc *PluginContext) RegisterCapability(capability CapabilityType, provider Provider, lifetime Lifetime) error {
	if !pc.provided[capability] {
		return NewUnresolvedCapabilityError(capability).
			WithContext("plugin", pc.manifest.Name).
			WithContext("reason", "capability not declared in the plugin manifest provides list")
	}
	return pc.registry.Register(capability, provider, lifetime)
}

// RegisterInstance registers an already-built instance for a declared
// capability.
func (pc *PluginContext) RegisterInstance(capability CapabilityType, instance any) error {
	return pc.RegisterCapability(capability, func() (any, error) { return instance, nil }, LifetimeSingleton)
}

// ExposeOperation registers an operation with the service catalog on
// behalf of this plugin. Typically called from Start. A manifest that
// declares an operations list restricts which names may be exposed.
func (pc *PluginContext) ExposeOperation(spec OperationSpec) error {
	if len(pc.manifest.Operations) > 0 && !contains(pc.manifest.Operations, spec.Name) {
		return NewValidationError(pc.manifest.Name,
			fmt.Errorf("operation %q not declared in the plugin manifest", spec.Name))
	}
	return pc.catalog.RegisterOperation(pc.manifest.Name, spec)
}

// Config returns the plugin's merged configuration section from the
// current snapshot. The section reflects the snapshot at call time;
// call again after a reload notification to pick up changes.
func (pc *PluginContext) Config() *ConfigSection {
	return pc.config.Snapshot().Section(pc.manifest.Name)
}

// NewScope opens a resolution scope on the shared registry, for
// per-request scoped capabilities.
func (pc *PluginContext) NewScope() *Scope {
	return pc.registry.NewScope()
}
