// discovery.go: Plugin manifest discovery from directories and in-process packages
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ManifestSource yields plugin manifests from one origin: a directory of
// manifest files, a set of compiled-in packages, or anything else that can
// enumerate plugins. Sources are queried in registration order and their
// results merged deterministically.
type ManifestSource interface {
	// Name identifies the source in logs and conflict errors.
	Name() string

	// Discover returns every manifest the source currently knows about.
	// Implementations must tolerate repeated calls.
	Discover(ctx context.Context) ([]*PluginManifest, error)
}

// DirectorySource discovers manifests from files in a directory tree.
// Files matching the configured patterns are parsed as JSON or YAML.
type DirectorySource struct {
	name     string
	root     string
	patterns []string
	maxDepth int
	logger   Logger
}

// DirectorySourceOption customizes a DirectorySource.
type DirectorySourceOption func(*DirectorySource)

// WithPatterns overrides the filename patterns matched during scanning.
// Defaults cover *.manifest.json and *.manifest.yaml / *.manifest.yml.
func WithPatterns(patterns ...string) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.patterns = patterns
	}
}

// WithMaxDepth bounds directory recursion. Zero means scan only the root.
func WithMaxDepth(depth int) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.maxDepth = depth
	}
}

// NewDirectorySource creates a source scanning root for manifest files.
func NewDirectorySource(root string, logger any, opts ...DirectorySourceOption) *DirectorySource {
	s := &DirectorySource{
		name:     "dir:" + root,
		root:     root,
		patterns: []string{"*.manifest.json", "*.manifest.yaml", "*.manifest.yml"},
		maxDepth: 3,
		logger:   NewLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements ManifestSource.
func (s *DirectorySource) Name() string { return s.name }

// Discover implements ManifestSource. Unreadable or malformed files are
// logged and skipped; a missing root directory yields zero manifests
// rather than an error so optional plugin directories need no stat dance.
func (s *DirectorySource) Discover(ctx context.Context) ([]*PluginManifest, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		s.logger.Debug("Plugin directory does not exist, skipping", "path", s.root)
		return nil, nil
	}

	var manifests []*PluginManifest

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Warn("Skipping unreadable path during discovery", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if info.IsDir() {
			if s.depthOf(path) > s.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.matches(info.Name()) {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			s.logger.Warn("Failed to read manifest file", "path", path, "error", readErr)
			return nil
		}

		manifest, parseErr := ParseManifest(data, path)
		if parseErr != nil {
			s.logger.Warn("Invalid manifest file skipped", "path", path, "error", parseErr)
			return nil
		}

		manifests = append(manifests, manifest)
		return nil
	})
	if err != nil {
		return nil, NewDiscoveryError(s.name, err)
	}

	s.logger.Debug("Directory scan complete",
		"source", s.name,
		"manifests", len(manifests))
	return manifests, nil
}

func (s *DirectorySource) matches(filename string) bool {
	for _, pattern := range s.patterns {
		if ok, _ := filepath.Match(pattern, filename); ok {
			return true
		}
	}
	return false
}

func (s *DirectorySource) depthOf(path string) int {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// PackageSource discovers manifests registered in-process, for plugins
// compiled into the hosting binary. Registration happens before Discover
// runs, typically from init functions or explicit setup code.
type PackageSource struct {
	name string

	mu        sync.RWMutex
	manifests []*PluginManifest
}

// NewPackageSource creates an empty in-process source.
func NewPackageSource(name string) *PackageSource {
	return &PackageSource{name: "pkg:" + name}
}

// Add registers a manifest with the source. The manifest is validated
// immediately so registration errors surface at the call site.
func (s *PackageSource) Add(manifest *PluginManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	manifest.Source = s.name
	s.manifests = append(s.manifests, manifest)
	return nil
}

// Name implements ManifestSource.
func (s *PackageSource) Name() string { return s.name }

// Discover implements ManifestSource.
func (s *PackageSource) Discover(ctx context.Context) ([]*PluginManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*PluginManifest, len(s.manifests))
	copy(result, s.manifests)
	return result, nil
}

// DiscoveryEngine merges manifests from multiple sources into one
// deterministic plugin set.
type DiscoveryEngine struct {
	logger Logger

	mu      sync.Mutex
	sources []ManifestSource
}

// NewDiscoveryEngine creates an engine with no sources attached.
func NewDiscoveryEngine(logger any) *DiscoveryEngine {
	return &DiscoveryEngine{logger: NewLogger(logger)}
}

// AddSource attaches a manifest source. Sources are queried in the order
// they were added.
func (e *DiscoveryEngine) AddSource(source ManifestSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = append(e.sources, source)
}

// Discover queries every source and merges the results.
//
// Two manifests with the same name from different sources are a hard
// DuplicatePluginName conflict - there is no precedence rule between
// sources, because silent shadowing of one plugin by another has no
// correct answer. The merged set is sorted by name so discovery output
// is stable across runs regardless of filesystem enumeration order.
func (e *DiscoveryEngine) Discover(ctx context.Context) ([]*PluginManifest, error) {
	e.mu.Lock()
	sources := make([]ManifestSource, len(e.sources))
	copy(sources, e.sources)
	e.mu.Unlock()

	seen := make(map[string]*PluginManifest)
	var merged []*PluginManifest

	for _, source := range sources {
		manifests, err := source.Discover(ctx)
		if err != nil {
			return nil, NewDiscoveryError(source.Name(), err)
		}

		for _, manifest := range manifests {
			if prior, exists := seen[manifest.Name]; exists {
				return nil, NewDuplicatePluginNameError(manifest.Name, prior.Source, manifest.Source)
			}
			seen[manifest.Name] = manifest
			merged = append(merged, manifest)
		}

		e.logger.Debug("Source discovered",
			"source", source.Name(),
			"manifests", len(manifests))
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Name < merged[j].Name
	})

	e.logger.Info("Discovery complete",
		"sources", len(sources),
		"plugins", len(merged))
	return merged, nil
}

// manifestSummary renders a short identity string for logs.
func manifestSummary(m *PluginManifest) string {
	return fmt.Sprintf("%s@%s", m.Name, m.Version)
}
