// catalog.go: Service catalog exposing plugin operations to the hosting process
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
)

// OperationInfo is the read-only listing entry for one exposed operation.
type OperationInfo struct {
	Name       string           `json:"name"`
	Path       string           `json:"path,omitempty"`
	Plugin     string           `json:"plugin"`
	Routable   bool             `json:"routable"`
	Middleware MiddlewareConfig `json:"middleware"`
}

// ServiceCatalog is the routing surface between the hosting process and
// running plugins.
//
// Plugins register their operations during Start; the lifecycle manager
// flips routability as plugins enter and leave the Running state, so a
// stopped or failed plugin's operations are listed but not routable.
// Operation names are global: two plugins exposing the same name is a
// registration-time DuplicateOperation conflict.
type ServiceCatalog struct {
	logger   Logger
	registry CapabilityResolver
	chain    *MiddlewareChain

	mu         sync.RWMutex
	operations map[string]*catalogEntry
	byPlugin   map[string][]string
	routable   map[string]bool
	stateOf    func(plugin string) (PluginState, bool)
}

type catalogEntry struct {
	spec   OperationSpec
	plugin string
}

// NewServiceCatalog creates a catalog routing through the given chain and
// resolving operation capability requirements against the registry.
func NewServiceCatalog(registry CapabilityResolver, chain *MiddlewareChain, logger any) *ServiceCatalog {
	return &ServiceCatalog{
		logger:     NewLogger(logger),
		registry:   registry,
		chain:      chain,
		operations: make(map[string]*catalogEntry),
		byPlugin:   make(map[string][]string),
		routable:   make(map[string]bool),
	}
}

// RegisterOperation exposes one operation on behalf of a plugin. The
// operation starts non-routable until the plugin reaches Running.
func (sc *ServiceCatalog) RegisterOperation(plugin string, spec OperationSpec) error {
	if spec.Name == "" || spec.Handler == nil {
		return NewValidationError(plugin, fmt.Errorf("operation needs a name and a handler"))
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if existing, taken := sc.operations[spec.Name]; taken {
		return NewDuplicateOperationError(spec.Name, existing.plugin)
	}

	sc.operations[spec.Name] = &catalogEntry{spec: spec, plugin: plugin}
	sc.byPlugin[plugin] = append(sc.byPlugin[plugin], spec.Name)

	sc.logger.Debug("Operation registered",
		"operation", spec.Name,
		"plugin", plugin)
	return nil
}

// DeregisterPlugin removes every operation a plugin registered, along
// with the per-operation middleware state (rate buckets, cache entries).
func (sc *ServiceCatalog) DeregisterPlugin(plugin string) {
	sc.mu.Lock()
	names := sc.byPlugin[plugin]
	delete(sc.byPlugin, plugin)
	for _, name := range names {
		delete(sc.operations, name)
	}
	delete(sc.routable, plugin)
	sc.mu.Unlock()

	for _, name := range names {
		sc.chain.forgetOperation(name)
	}

	if len(names) > 0 {
		sc.logger.Debug("Plugin operations deregistered",
			"plugin", plugin,
			"operations", len(names))
	}
}

// SetStateReporter installs the lookup used to name a plugin's actual
// lifecycle state in routing errors. The lifecycle manager installs
// itself here; without a reporter the catalog assumes Stopped.
func (sc *ServiceCatalog) SetStateReporter(fn func(plugin string) (PluginState, bool)) {
	sc.mu.Lock()
	sc.stateOf = fn
	sc.mu.Unlock()
}

// SetRoutable flips whether a plugin's operations accept requests. The
// lifecycle manager calls this on Running entry and on stop/failure.
func (sc *ServiceCatalog) SetRoutable(plugin string, routable bool) {
	sc.mu.Lock()
	sc.routable[plugin] = routable
	sc.mu.Unlock()
}

// ListOperations returns every registered operation sorted by name.
func (sc *ServiceCatalog) ListOperations() []OperationInfo {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	result := make([]OperationInfo, 0, len(sc.operations))
	for name, entry := range sc.operations {
		result = append(result, OperationInfo{
			Name:       name,
			Path:       entry.spec.Path,
			Plugin:     entry.plugin,
			Routable:   sc.routable[entry.plugin],
			Middleware: entry.spec.Middleware,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Route dispatches a request to the named operation through the
// middleware chain.
//
// Routing fails with OperationNotFound for unknown names and with
// PluginNotRunning when the owning plugin is not accepting requests. The
// operation's required capabilities are re-checked at dispatch, so a
// capability withdrawn after registration fails the request instead of
// reaching the handler with a hole in its dependencies. A missing
// correlation ID is filled in before the chain runs.
func (sc *ServiceCatalog) Route(ctx context.Context, operation string, req Request) (Response, error) {
	sc.mu.RLock()
	entry, exists := sc.operations[operation]
	var routable bool
	if exists {
		routable = sc.routable[entry.plugin]
	}
	stateOf := sc.stateOf
	sc.mu.RUnlock()

	if !exists {
		err := NewOperationNotFoundError(operation)
		return Response{CorrelationID: req.CorrelationID, Err: err}, err
	}
	if !routable {
		state := StateStopped
		if stateOf != nil {
			if actual, known := stateOf(entry.plugin); known {
				state = actual
			}
		}
		err := NewPluginNotRunningError(entry.plugin, state)
		return Response{CorrelationID: req.CorrelationID, Err: err}, err
	}

	for _, capability := range entry.spec.RequiredCapabilities {
		if !sc.registry.Has(capability) {
			err := NewUnresolvedCapabilityError(capability).
				WithContext("operation", operation)
			return Response{CorrelationID: req.CorrelationID, Err: err}, err
		}
	}

	req.Operation = operation
	if req.CorrelationID == "" {
		req.CorrelationID = NewCorrelationID()
	}

	return sc.chain.Execute(ctx, &entry.spec, req)
}

// Operations returns the operation names a plugin has registered, sorted.
func (sc *ServiceCatalog) Operations(plugin string) []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	result := make([]string, len(sc.byPlugin[plugin]))
	copy(result, sc.byPlugin[plugin])
	sort.Strings(result)
	return result
}
