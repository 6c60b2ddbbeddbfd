// types.go: Common data types for the hostkit runtime
//
// This file contains the shared data models used by the registry, lifecycle
// manager, catalog, and middleware layer. Keeping them separate from the
// component implementations mirrors how the rest of the library is split.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"time"
)

// CapabilityType identifies an abstract capability (an interface a plugin
// depends on or provides), resolved through the service registry rather
// than named by a concrete implementation.
type CapabilityType string

// Lifetime controls how often a registered provider is invoked.
//
//   - LifetimeSingleton: the provider runs at most once, lazily, and the
//     result is cached for the life of the registry.
//   - LifetimeFactory: the provider runs on every resolve.
//   - LifetimeScoped: the result is cached per resolution scope and
//     released when the scope ends.
type Lifetime int

const (
	LifetimeSingleton Lifetime = iota
	LifetimeFactory
	LifetimeScoped
)

// String returns a human-readable representation of the lifetime.
func (l Lifetime) String() string {
	switch l {
	case LifetimeSingleton:
		return "singleton"
	case LifetimeFactory:
		return "factory"
	case LifetimeScoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// PluginState represents a plugin's position in the lifecycle state machine.
//
// The only legal transitions are:
//
//	Discovered -> Loaded -> Initialized -> Started -> Running
//	Running -> Stopping -> Stopped
//	any state -> Failed (terminal)
type PluginState string

const (
	StateDiscovered  PluginState = "discovered"
	StateLoaded      PluginState = "loaded"
	StateInitialized PluginState = "initialized"
	StateStarted     PluginState = "started"
	StateRunning     PluginState = "running"
	StateStopping    PluginState = "stopping"
	StateStopped     PluginState = "stopped"
	StateFailed      PluginState = "failed"
)

// String returns the state name.
func (s PluginState) String() string { return string(s) }

// Terminal reports whether the state permits no further transitions.
func (s PluginState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// HealthLevel grades the outcome of a health probe.
type HealthLevel int

const (
	HealthUnknown HealthLevel = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthOffline
)

// String returns a human-readable representation of the health level.
func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// HealthStatus contains the outcome of a plugin health probe.
//
// ResponseTime and LastCheck are filled in by the health checker; plugins
// only need to report Level and an optional message.
type HealthStatus struct {
	Level        HealthLevel       `json:"level"`
	Message      string            `json:"message,omitempty"`
	LastCheck    time.Time         `json:"last_check"`
	ResponseTime time.Duration     `json:"response_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Request is the unit of work routed through the service catalog.
//
// Payload is opaque to the runtime; middleware stages communicate only
// through the request/response values and the correlation context.
type Request struct {
	Operation     string            `json:"operation"`
	CorrelationID string            `json:"correlation_id"`
	Principal     string            `json:"principal,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       any               `json:"payload,omitempty"`
}

// Response is the structured result of a routed request. Err carries
// handler and middleware failures; the runtime never panics a failure
// back to the caller.
type Response struct {
	CorrelationID string        `json:"correlation_id"`
	Payload       any           `json:"payload,omitempty"`
	FromCache     bool          `json:"from_cache,omitempty"`
	Duration      time.Duration `json:"duration"`
	Err           error         `json:"-"`
}

// Handler is the business-logic function behind an exposed operation.
type Handler func(ctx context.Context, req Request) (Response, error)

// OperationSpec describes one operation a plugin exposes to the hosting
// process. Created when the plugin registers itself during Start; removed
// when the plugin stops.
type OperationSpec struct {
	Name                 string           `json:"name" yaml:"name" validate:"required,min=1"`
	Path                 string           `json:"path,omitempty" yaml:"path,omitempty"`
	Handler              Handler          `json:"-" yaml:"-"`
	RequiredCapabilities []CapabilityType `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	Middleware           MiddlewareConfig `json:"middleware,omitempty" yaml:"middleware,omitempty"`
}

// PluginStatus is the operational status record returned by the runtime's
// read-only status query, one per managed plugin.
type PluginStatus struct {
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	State      PluginState   `json:"state"`
	LastHealth HealthStatus  `json:"last_health"`
	Uptime     time.Duration `json:"uptime"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
}
