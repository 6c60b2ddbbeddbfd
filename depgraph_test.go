// depgraph_test.go: Tests for capability-based dependency ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDependencyGraph_Layers(t *testing.T) {
	manifests := []*PluginManifest{
		{Name: "database", Version: "1.0.0", Provides: []CapabilityType{"db"}},
		{Name: "cache", Version: "1.0.0", Provides: []CapabilityType{"cache"}},
		{Name: "billing", Version: "1.0.0", Requires: []CapabilityType{"db"}, Provides: []CapabilityType{"billing.api"}},
		{Name: "reporting", Version: "1.0.0", Requires: []CapabilityType{"billing.api", "cache"}},
	}

	graph, err := BuildDependencyGraph(manifests)
	require.NoError(t, err)

	layers := graph.Layers()
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"cache", "database"}, layers[0],
		"independent plugins share the first layer, name-sorted")
	assert.Equal(t, []string{"billing"}, layers[1])
	assert.Equal(t, []string{"reporting"}, layers[2])
}

func TestBuildDependencyGraph_Cycle(t *testing.T) {
	manifests := []*PluginManifest{
		{Name: "a", Version: "1.0.0", Provides: []CapabilityType{"a.api"}, Requires: []CapabilityType{"b.api"}},
		{Name: "b", Version: "1.0.0", Provides: []CapabilityType{"b.api"}, Requires: []CapabilityType{"a.api"}},
		{Name: "standalone", Version: "1.0.0"},
	}

	_, err := BuildDependencyGraph(manifests)
	require.Error(t, err, "a dependency cycle must fail at graph build, before anything starts")
	assert.Equal(t, string(ErrCodeCyclicDependency), ErrorCode(err))
}

func TestDependencyGraph_ExternalRequirements(t *testing.T) {
	manifests := []*PluginManifest{
		{Name: "billing", Version: "1.0.0", Requires: []CapabilityType{"database", "billing.internal"}},
		{Name: "core", Version: "1.0.0", Provides: []CapabilityType{"billing.internal"}},
	}

	graph, err := BuildDependencyGraph(manifests)
	require.NoError(t, err)

	assert.Equal(t, []string{"core"}, graph.Dependencies("billing"))
	assert.Equal(t, []CapabilityType{"database"}, graph.ExternalRequirements("billing"),
		"capabilities no plugin provides must be flagged for host-registry checking")
}

func TestDependencyGraph_TransitiveDependents(t *testing.T) {
	manifests := []*PluginManifest{
		{Name: "database", Version: "1.0.0", Provides: []CapabilityType{"db"}},
		{Name: "billing", Version: "1.0.0", Requires: []CapabilityType{"db"}, Provides: []CapabilityType{"billing.api"}},
		{Name: "reporting", Version: "1.0.0", Requires: []CapabilityType{"billing.api"}},
		{Name: "unrelated", Version: "1.0.0"},
	}

	graph, err := BuildDependencyGraph(manifests)
	require.NoError(t, err)

	assert.Equal(t, []string{"billing", "reporting"}, graph.TransitiveDependents("database"))
	assert.Empty(t, graph.TransitiveDependents("reporting"))
	assert.Equal(t, []string{"billing"}, graph.Dependents("database"))
}

func TestDependencyGraph_ReverseLayers(t *testing.T) {
	manifests := []*PluginManifest{
		{Name: "database", Version: "1.0.0", Provides: []CapabilityType{"db"}},
		{Name: "billing", Version: "1.0.0", Requires: []CapabilityType{"db"}},
	}

	graph, err := BuildDependencyGraph(manifests)
	require.NoError(t, err)

	reversed := graph.ReverseLayers()
	require.Len(t, reversed, 2)
	assert.Equal(t, []string{"billing"}, reversed[0], "dependents stop before providers")
	assert.Equal(t, []string{"database"}, reversed[1])
}
