// registry.go: Typed service registry with singleton, factory, and scoped lifetimes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"fmt"
	"io"
	"sync"
)

// Provider constructs an instance for a registered capability.
//
// For LifetimeSingleton the provider runs at most once; for
// LifetimeFactory it runs on every resolve; for LifetimeScoped it runs
// once per scope. A provider returning an error never has its failure
// cached - the next resolve retries construction.
type Provider func() (any, error)

// CapabilityResolver is the read-only resolution surface of a registry.
// Plugin contexts hold this view so plugins can resolve but never mutate.
type CapabilityResolver interface {
	// Resolve returns an instance for the capability, or an
	// UnresolvedCapability error when no provider is registered.
	Resolve(capability CapabilityType) (any, error)

	// ResolveOptional returns (instance, true) when the capability is
	// registered and constructible, and (nil, false) otherwise. Used for
	// optional dependencies that a plugin can live without.
	ResolveOptional(capability CapabilityType) (any, bool)

	// Has reports whether a provider is registered for the capability.
	Has(capability CapabilityType) bool
}

// ServiceRegistry is a typed dependency-injection container.
//
// Each registry is an isolated container instance: capabilities registered
// in one registry are invisible to every other, which is what makes
// TemporaryOverride safe across concurrent test runs. The entries map is
// guarded by one lock, but construction state is guarded per entry so
// building one slow singleton never blocks resolvers of unrelated
// capabilities.
type ServiceRegistry struct {
	logger Logger

	mu      sync.RWMutex
	entries map[CapabilityType]*registryEntry

	scopeSeq    Sequence
	providerSeq Sequence
}

// registryEntry holds one capability registration. The per-entry mutex
// covers singleton construction and the scoped-instance cache; the
// registry-level lock only covers the entries map itself.
type registryEntry struct {
	capability CapabilityType
	lifetime   Lifetime
	provider   Provider
	providerID int64

	mu       sync.RWMutex
	built    bool
	instance any
	scoped   map[string]any
}

// NewServiceRegistry creates an empty container bound to the given logger.
func NewServiceRegistry(logger any) *ServiceRegistry {
	return &ServiceRegistry{
		logger:  NewLogger(logger),
		entries: make(map[CapabilityType]*registryEntry),
	}
}

// Register binds a provider to a capability type.
//
// Registering a capability that already has an entry fails with
// DuplicateRegistration; replacement must go through Replace so every
// swap is explicit and logged.
func (r *ServiceRegistry) Register(capability CapabilityType, provider Provider, lifetime Lifetime) error {
	if provider == nil {
		return NewProviderFailureError(capability, fmt.Errorf("nil provider"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[capability]; exists {
		return NewDuplicateRegistrationError(capability)
	}

	r.entries[capability] = r.newEntry(capability, provider, lifetime)
	r.logger.Debug("Capability registered",
		"capability", string(capability),
		"lifetime", lifetime.String())
	return nil
}

// RegisterInstance binds an already-constructed instance as a singleton.
func (r *ServiceRegistry) RegisterInstance(capability CapabilityType, instance any) error {
	return r.Register(capability, func() (any, error) { return instance, nil }, LifetimeSingleton)
}

// Replace atomically swaps the entry for a capability, installing the new
// provider whether or not an old entry exists. The swap is logged with the
// old and new provider identities; it is never silent.
func (r *ServiceRegistry) Replace(capability CapabilityType, provider Provider, lifetime Lifetime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.newEntry(capability, provider, lifetime)
	old, existed := r.entries[capability]
	r.entries[capability] = entry

	oldID := int64(0)
	if existed {
		oldID = old.providerID
	}
	r.logger.Info("Capability entry replaced",
		"capability", string(capability),
		"old_provider_id", oldID,
		"new_provider_id", entry.providerID,
		"lifetime", lifetime.String())
}

// Remove deletes the entry for a capability, if any. The lifecycle manager
// calls this when a providing plugin fails so dependents fail fast instead
// of resolving a half-initialized instance.
func (r *ServiceRegistry) Remove(capability CapabilityType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[capability]; exists {
		delete(r.entries, capability)
		r.logger.Info("Capability entry removed", "capability", string(capability))
	}
}

// Has implements CapabilityResolver.
func (r *ServiceRegistry) Has(capability CapabilityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[capability]
	return exists
}

// Capabilities returns the currently registered capability types.
func (r *ServiceRegistry) Capabilities() []CapabilityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]CapabilityType, 0, len(r.entries))
	for capability := range r.entries {
		result = append(result, capability)
	}
	return result
}

// Resolve implements CapabilityResolver.
//
// Singleton entries are constructed lazily with double-checked locking:
// concurrent resolvers of the same capability block until the first
// construction completes or fails, while resolvers of other capabilities
// proceed unhindered. Scoped entries cannot be resolved without a scope.
func (r *ServiceRegistry) Resolve(capability CapabilityType) (any, error) {
	entry, err := r.lookup(capability)
	if err != nil {
		return nil, err
	}
	return entry.resolve(nil)
}

// ResolveOptional implements CapabilityResolver.
func (r *ServiceRegistry) ResolveOptional(capability CapabilityType) (any, bool) {
	entry, err := r.lookup(capability)
	if err != nil {
		return nil, false
	}
	instance, err := entry.resolve(nil)
	if err != nil {
		return nil, false
	}
	return instance, true
}

// TemporaryOverride installs an instance for a capability, runs fn, and
// restores the prior entry (or absence of one) on every exit path,
// including a panic inside fn. It is the only sanctioned mechanism for
// test isolation; because registries are per-container values, overrides
// never leak across concurrent test runs using separate registries.
func (r *ServiceRegistry) TemporaryOverride(capability CapabilityType, instance any, fn func() error) error {
	r.mu.Lock()
	prior, existed := r.entries[capability]
	override := r.newEntry(capability, func() (any, error) { return instance, nil }, LifetimeSingleton)
	r.entries[capability] = override
	r.mu.Unlock()

	r.logger.Debug("Temporary override installed", "capability", string(capability))

	defer func() {
		r.mu.Lock()
		if existed {
			r.entries[capability] = prior
		} else {
			delete(r.entries, capability)
		}
		r.mu.Unlock()
		r.logger.Debug("Temporary override restored", "capability", string(capability))
	}()

	return fn()
}

// NewScope opens a resolution scope. Scoped-lifetime entries resolved
// through the returned scope are cached for its duration and released
// when End is called.
func (r *ServiceRegistry) NewScope() *Scope {
	return &Scope{
		id:       newScopeID(&r.scopeSeq),
		registry: r,
	}
}

func (r *ServiceRegistry) lookup(capability CapabilityType) (*registryEntry, error) {
	r.mu.RLock()
	entry, exists := r.entries[capability]
	r.mu.RUnlock()

	if !exists {
		return nil, NewUnresolvedCapabilityError(capability)
	}
	return entry, nil
}

func (r *ServiceRegistry) newEntry(capability CapabilityType, provider Provider, lifetime Lifetime) *registryEntry {
	return &registryEntry{
		capability: capability,
		lifetime:   lifetime,
		provider:   provider,
		providerID: r.providerSeq.Next(),
		scoped:     make(map[string]any),
	}
}

// resolve produces an instance according to the entry's lifetime. A nil
// scope is only legal for singleton and factory entries.
func (e *registryEntry) resolve(scope *Scope) (any, error) {
	switch e.lifetime {
	case LifetimeFactory:
		instance, err := e.provider()
		if err != nil {
			return nil, NewProviderFailureError(e.capability, err)
		}
		return instance, nil

	case LifetimeScoped:
		if scope == nil {
			return nil, NewUnresolvedCapabilityError(e.capability).
				WithContext("reason", "scoped capability resolved without a scope")
		}
		return e.resolveScoped(scope)

	default: // LifetimeSingleton
		return e.resolveSingleton()
	}
}

func (e *registryEntry) resolveSingleton() (any, error) {
	// Fast path: already built.
	e.mu.RLock()
	if e.built {
		instance := e.instance
		e.mu.RUnlock()
		return instance, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check: another resolver may have built it while we waited.
	if e.built {
		return e.instance, nil
	}

	instance, err := e.provider()
	if err != nil {
		return nil, NewProviderFailureError(e.capability, err)
	}

	e.instance = instance
	e.built = true
	return instance, nil
}

func (e *registryEntry) resolveScoped(scope *Scope) (any, error) {
	e.mu.RLock()
	instance, cached := e.scoped[scope.id]
	e.mu.RUnlock()
	if cached {
		return instance, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if instance, cached = e.scoped[scope.id]; cached {
		return instance, nil
	}

	instance, err := e.provider()
	if err != nil {
		return nil, NewProviderFailureError(e.capability, err)
	}

	e.scoped[scope.id] = instance
	scope.track(e)
	return instance, nil
}

// releaseScope drops the cached instance for a scope, closing it when it
// implements io.Closer.
func (e *registryEntry) releaseScope(scopeID string, logger Logger) {
	e.mu.Lock()
	instance, cached := e.scoped[scopeID]
	delete(e.scoped, scopeID)
	e.mu.Unlock()

	if !cached {
		return
	}
	if closer, ok := instance.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Scoped instance close failed",
				"capability", string(e.capability),
				"scope", scopeID,
				"error", err)
		}
	}
}

// Scope is a bounded lifetime (one request, one plugin instance) for
// scoped-lifetime entries. Resolve calls through a scope share cached
// instances until End releases them.
type Scope struct {
	id       string
	registry *ServiceRegistry

	mu      sync.Mutex
	ended   bool
	entries []*registryEntry
}

// Resolve resolves a capability within this scope.
func (s *Scope) Resolve(capability CapabilityType) (any, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, NewScopeEndedError(capability)
	}
	s.mu.Unlock()

	entry, err := s.registry.lookup(capability)
	if err != nil {
		return nil, err
	}
	return entry.resolve(s)
}

// ResolveOptional resolves a capability within this scope, returning
// (nil, false) instead of an error when absent or failing.
func (s *Scope) ResolveOptional(capability CapabilityType) (any, bool) {
	instance, err := s.Resolve(capability)
	if err != nil {
		return nil, false
	}
	return instance, true
}

// Has reports whether the underlying registry has the capability.
func (s *Scope) Has(capability CapabilityType) bool {
	return s.registry.Has(capability)
}

// End releases every scoped instance cached for this scope. Safe to call
// more than once.
func (s *Scope) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, entry := range entries {
		entry.releaseScope(s.id, s.registry.logger)
	}
}

func (s *Scope) track(entry *registryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing == entry {
			return
		}
	}
	s.entries = append(s.entries, entry)
}

// ResolveAs resolves a capability and asserts it to the requested type.
// A type mismatch is reported as an UnresolvedCapability so callers treat
// it like any other resolution failure.
func ResolveAs[T any](resolver CapabilityResolver, capability CapabilityType) (T, error) {
	var zero T

	instance, err := resolver.Resolve(capability)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, NewUnresolvedCapabilityError(capability).
			WithContext("reason", "registered instance does not implement the requested type")
	}
	return typed, nil
}
