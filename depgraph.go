// depgraph.go: Capability-based plugin dependency graph and startup ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"sort"
	"sync"
)

// DependencyGraph orders plugins by their capability edges.
//
// An edge A -> B exists when plugin A requires a capability that plugin B
// provides. Required capabilities that no plugin provides are not edges at
// all; they are expected to be satisfiable from the host registry and are
// checked separately at startup. The graph computes startup layers - sets
// of plugins with no unsatisfied edges between them - so independent
// plugins can start in parallel, and detects cycles at build time so an
// impossible ordering fails before any plugin runs.
type DependencyGraph struct {
	mu sync.RWMutex

	// dependencies maps a plugin to the plugins it requires.
	dependencies map[string][]string
	// dependents maps a plugin to the plugins that require it.
	dependents map[string][]string
	// external lists required capabilities with no providing plugin,
	// keyed by requiring plugin.
	external map[string][]CapabilityType
}

// BuildDependencyGraph constructs the graph from a discovered manifest
// set. It fails with CyclicDependency when the capability edges admit no
// topological order.
func BuildDependencyGraph(manifests []*PluginManifest) (*DependencyGraph, error) {
	providers := make(map[CapabilityType]string)
	for _, manifest := range manifests {
		for _, capability := range manifest.Provides {
			providers[capability] = manifest.Name
		}
	}

	graph := &DependencyGraph{
		dependencies: make(map[string][]string),
		dependents:   make(map[string][]string),
		external:     make(map[string][]CapabilityType),
	}

	for _, manifest := range manifests {
		graph.dependencies[manifest.Name] = nil

		for _, capability := range manifest.Requires {
			provider, internal := providers[capability]
			if !internal {
				graph.external[manifest.Name] = append(graph.external[manifest.Name], capability)
				continue
			}
			if !contains(graph.dependencies[manifest.Name], provider) {
				graph.dependencies[manifest.Name] = append(graph.dependencies[manifest.Name], provider)
				graph.dependents[provider] = append(graph.dependents[provider], manifest.Name)
			}
		}
	}

	if cycle := graph.findCycle(); len(cycle) > 0 {
		return nil, NewCyclicDependencyError(cycle)
	}
	return graph, nil
}

// Dependencies returns the plugins that must be running before the named
// plugin starts.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]string, len(g.dependencies[name]))
	copy(result, g.dependencies[name])
	return result
}

// Dependents returns the plugins that directly require the named plugin.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]string, len(g.dependents[name]))
	copy(result, g.dependents[name])
	return result
}

// TransitiveDependents returns every plugin that directly or indirectly
// requires the named one. Used for failure isolation: when a plugin
// fails, this set must not start.
func (g *DependencyGraph) TransitiveDependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var walk func(string)
	walk = func(current string) {
		for _, dependent := range g.dependents[current] {
			if !visited[dependent] {
				visited[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(name)

	result := make([]string, 0, len(visited))
	for dependent := range visited {
		result = append(result, dependent)
	}
	sort.Strings(result)
	return result
}

// ExternalRequirements returns the required capabilities of a plugin that
// no discovered plugin provides. These must resolve against the host
// registry or startup fails with MissingDependency.
func (g *DependencyGraph) ExternalRequirements(name string) []CapabilityType {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]CapabilityType, len(g.external[name]))
	copy(result, g.external[name])
	return result
}

// Layers computes the startup order as Kahn layers: layer N contains
// exactly the plugins whose every dependency sits in a layer < N. Plugins
// within a layer are sorted by name so the order is deterministic, and
// may start concurrently.
func (g *DependencyGraph) Layers() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.dependencies))
	for name, deps := range g.dependencies {
		inDegree[name] = len(deps)
	}

	var layers [][]string
	remaining := len(inDegree)

	for remaining > 0 {
		var layer []string
		for name, degree := range inDegree {
			if degree == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			// Cycle members never reach degree zero. Build already
			// rejected cycles, so this is unreachable in practice.
			break
		}
		sort.Strings(layer)

		for _, name := range layer {
			delete(inDegree, name)
			for _, dependent := range g.dependents[name] {
				if _, pending := inDegree[dependent]; pending {
					inDegree[dependent]--
				}
			}
		}

		layers = append(layers, layer)
		remaining = len(inDegree)
	}

	return layers
}

// ReverseLayers returns the startup layers in reverse, which is the
// shutdown order: dependents stop before the plugins they require.
func (g *DependencyGraph) ReverseLayers() [][]string {
	layers := g.Layers()
	reversed := make([][]string, len(layers))
	for i, layer := range layers {
		reversed[len(layers)-1-i] = layer
	}
	return reversed
}

// findCycle returns the names of plugins stuck in a dependency cycle, or
// nil when the graph is acyclic. It runs Kahn elimination and reports
// whatever could not be eliminated, sorted for stable error output.
func (g *DependencyGraph) findCycle() []string {
	inDegree := make(map[string]int, len(g.dependencies))
	for name, deps := range g.dependencies {
		inDegree[name] = len(deps)
	}

	queue := make([]string, 0, len(inDegree))
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	eliminated := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		eliminated++

		for _, dependent := range g.dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if eliminated == len(g.dependencies) {
		return nil
	}

	var cycle []string
	for name, degree := range inDegree {
		if degree > 0 {
			cycle = append(cycle, name)
		}
	}
	sort.Strings(cycle)
	return cycle
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
