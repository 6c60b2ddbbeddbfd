// config.go: Hierarchical plugin configuration with atomic snapshots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"gopkg.in/yaml.v3"
)

// ConfigLayer identifies which precedence layer produced a value.
// Higher layers win: defaults < environment < file < operator override.
type ConfigLayer int

const (
	LayerDefault ConfigLayer = iota
	LayerEnvironment
	LayerFile
	LayerOverride
)

// String returns a human-readable layer name for status output.
func (l ConfigLayer) String() string {
	switch l {
	case LayerDefault:
		return "default"
	case LayerEnvironment:
		return "environment"
	case LayerFile:
		return "file"
	case LayerOverride:
		return "override"
	default:
		return "unknown"
	}
}

// ConfigValidator checks a plugin's merged configuration section before a
// snapshot is published. Any validator failing rejects the entire reload.
type ConfigValidator func(section map[string]any) error

// configValue pairs a value with the layer that supplied it.
type configValue struct {
	value any
	layer ConfigLayer
}

// ConfigSnapshot is an immutable view of the merged configuration.
// Readers hold a snapshot for the duration of one logical operation, so
// a concurrent reload never changes values mid-operation.
type ConfigSnapshot struct {
	version  uint64
	loadedAt time.Time
	values   map[string]map[string]configValue
}

// Version returns the monotonically increasing snapshot version.
func (s *ConfigSnapshot) Version() uint64 { return s.version }

// LoadedAt returns when this snapshot was published.
func (s *ConfigSnapshot) LoadedAt() time.Time { return s.loadedAt }

// Section returns the merged view for one plugin.
func (s *ConfigSnapshot) Section(plugin string) *ConfigSection {
	return &ConfigSection{plugin: plugin, values: s.values[plugin]}
}

// Sections lists the plugin names with configuration present, sorted.
func (s *ConfigSnapshot) Sections() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigSection is a read-only typed view over one plugin's merged
// configuration.
type ConfigSection struct {
	plugin string
	values map[string]configValue
}

// Get returns the raw value and whether it is present.
func (c *ConfigSection) Get(key string) (any, bool) {
	if c.values == nil {
		return nil, false
	}
	entry, exists := c.values[key]
	if !exists {
		return nil, false
	}
	return entry.value, true
}

// SourceOf reports which precedence layer supplied a key's value.
func (c *ConfigSection) SourceOf(key string) (ConfigLayer, bool) {
	if c.values == nil {
		return LayerDefault, false
	}
	entry, exists := c.values[key]
	if !exists {
		return LayerDefault, false
	}
	return entry.layer, true
}

// GetString returns a string value, or fallback when absent or not a string.
func (c *ConfigSection) GetString(key, fallback string) string {
	if value, exists := c.Get(key); exists {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return fallback
}

// GetInt returns an integer value, coercing the numeric and string forms
// that JSON, YAML, and environment layers produce.
func (c *ConfigSection) GetInt(key string, fallback int) int {
	value, exists := c.Get(key)
	if !exists {
		return fallback
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetBool returns a boolean value, accepting strconv-parsable strings.
func (c *ConfigSection) GetBool(key string, fallback bool) bool {
	value, exists := c.Get(key)
	if !exists {
		return fallback
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetDuration returns a duration value, parsing strings like "30s".
func (c *ConfigSection) GetDuration(key string, fallback time.Duration) time.Duration {
	value, exists := c.Get(key)
	if !exists {
		return fallback
	}
	switch v := value.(type) {
	case time.Duration:
		return v
	case string:
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	}
	return fallback
}

// ConfigSubscriber receives the new snapshot and the names of sections
// whose effective values changed.
type ConfigSubscriber func(snapshot *ConfigSnapshot, changed []string)

// ConfigProvider merges four configuration layers into atomic snapshots.
//
// Layers by rising precedence: plugin manifest defaults, environment
// variables, configuration file, operator overrides. Rebuilds are
// all-or-nothing: every registered validator must accept its section or
// the previous snapshot stays in effect untouched.
type ConfigProvider struct {
	logger    Logger
	envPrefix string

	mu         sync.Mutex
	defaults   map[string]map[string]any
	fileValues map[string]map[string]any
	overrides  map[string]map[string]any
	validators map[string][]ConfigValidator
	filePath   string

	version     atomic.Uint64
	current     atomic.Pointer[ConfigSnapshot]
	subscribers []ConfigSubscriber
}

// NewConfigProvider creates a provider with an empty published snapshot.
// envPrefix scopes which environment variables are read, e.g. "HOSTKIT".
func NewConfigProvider(envPrefix string, logger any) *ConfigProvider {
	p := &ConfigProvider{
		logger:     NewLogger(logger),
		envPrefix:  envPrefix,
		defaults:   make(map[string]map[string]any),
		fileValues: make(map[string]map[string]any),
		overrides:  make(map[string]map[string]any),
		validators: make(map[string][]ConfigValidator),
	}
	p.current.Store(&ConfigSnapshot{
		version:  p.version.Add(1),
		loadedAt: timecache.CachedTime(),
		values:   map[string]map[string]configValue{},
	})
	return p
}

// Snapshot returns the current immutable configuration view.
func (p *ConfigProvider) Snapshot() *ConfigSnapshot {
	return p.current.Load()
}

// SetDefaults installs the lowest-precedence layer for a plugin,
// typically from its manifest, and republishes. A rejected rebuild rolls
// the layer change back so the provider never wedges on a bad value.
func (p *ConfigProvider) SetDefaults(plugin string, values map[string]any) error {
	p.mu.Lock()
	prior, existed := p.defaults[plugin]
	p.defaults[plugin] = cloneValues(values)
	p.mu.Unlock()

	if err := p.Reload(); err != nil {
		p.mu.Lock()
		if existed {
			p.defaults[plugin] = prior
		} else {
			delete(p.defaults, plugin)
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// SetOverride installs an operator override, the highest-precedence
// layer, and republishes. A rejected rebuild rolls the override back.
func (p *ConfigProvider) SetOverride(plugin, key string, value any) error {
	p.mu.Lock()
	if p.overrides[plugin] == nil {
		p.overrides[plugin] = make(map[string]any)
	}
	prior, existed := p.overrides[plugin][key]
	p.overrides[plugin][key] = value
	p.mu.Unlock()

	if err := p.Reload(); err != nil {
		p.mu.Lock()
		if existed {
			p.overrides[plugin][key] = prior
		} else {
			delete(p.overrides[plugin], key)
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// ClearOverride removes an operator override and republishes.
func (p *ConfigProvider) ClearOverride(plugin, key string) error {
	p.mu.Lock()
	section := p.overrides[plugin]
	prior, existed := section[key]
	if section != nil {
		delete(section, key)
	}
	p.mu.Unlock()

	if err := p.Reload(); err != nil {
		if existed {
			p.mu.Lock()
			p.overrides[plugin][key] = prior
			p.mu.Unlock()
		}
		return err
	}
	return nil
}

// RegisterValidator attaches a validator to a plugin's section. It runs
// on every rebuild before the snapshot is published.
func (p *ConfigProvider) RegisterValidator(plugin string, validator ConfigValidator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators[plugin] = append(p.validators[plugin], validator)
}

// Subscribe registers a callback invoked after each published snapshot
// whose effective values differ from the previous one.
func (p *ConfigProvider) Subscribe(subscriber ConfigSubscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriber)
}

// LoadFile reads a configuration file (JSON or YAML, a map of plugin
// name to key/value section), expands ${VAR} and ${VAR:-default}
// placeholders in string values, and republishes. The file path is
// remembered so Reload re-reads it.
func (p *ConfigProvider) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewConfigFileError(path, err)
	}

	sections, err := parseConfigFile(data, path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	priorPath := p.filePath
	priorValues := p.fileValues
	p.filePath = path
	p.fileValues = sections
	p.mu.Unlock()

	if err := p.Reload(); err != nil {
		p.mu.Lock()
		p.filePath = priorPath
		p.fileValues = priorValues
		p.mu.Unlock()
		return err
	}
	return nil
}

// Reload rebuilds the merged snapshot from all four layers, re-reading
// the configuration file when one was loaded.
//
// Validation is all-or-nothing: if any section validator rejects, the
// previous snapshot remains in effect and the error describes the first
// rejection. On success the new snapshot is published atomically and
// subscribers are notified with the changed section names.
func (p *ConfigProvider) Reload() error {
	p.mu.Lock()

	if p.filePath != "" {
		data, err := os.ReadFile(p.filePath)
		if err != nil {
			p.mu.Unlock()
			return NewConfigFileError(p.filePath, err)
		}
		sections, parseErr := parseConfigFile(data, p.filePath)
		if parseErr != nil {
			p.mu.Unlock()
			return parseErr
		}
		p.fileValues = sections
	}

	merged := p.mergeLayersLocked()

	// Validate every section before publishing anything.
	for plugin, validators := range p.validators {
		section := flatten(merged[plugin])
		for _, validate := range validators {
			if err := validate(section); err != nil {
				p.mu.Unlock()
				p.logger.Warn("Configuration reload rejected, previous snapshot retained",
					"plugin", plugin, "error", err)
				return NewValidationError(plugin, err)
			}
		}
	}

	previous := p.current.Load()
	next := &ConfigSnapshot{
		version:  p.version.Add(1),
		loadedAt: timecache.CachedTime(),
		values:   merged,
	}
	p.current.Store(next)
	subscribers := make([]ConfigSubscriber, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	changed := diffSnapshots(previous, next)
	p.logger.Info("Configuration snapshot published",
		"version", next.version,
		"sections", len(next.values),
		"changed", len(changed))

	if len(changed) > 0 {
		for _, subscriber := range subscribers {
			subscriber(next, changed)
		}
	}
	return nil
}

// mergeLayersLocked flattens the four layers into per-plugin value maps.
// Caller holds p.mu.
func (p *ConfigProvider) mergeLayersLocked() map[string]map[string]configValue {
	merged := make(map[string]map[string]configValue)

	apply := func(source map[string]map[string]any, layer ConfigLayer) {
		for plugin, section := range source {
			if merged[plugin] == nil {
				merged[plugin] = make(map[string]configValue)
			}
			for key, value := range section {
				merged[plugin][key] = configValue{value: value, layer: layer}
			}
		}
	}

	apply(p.defaults, LayerDefault)
	apply(p.environmentLayerLocked(), LayerEnvironment)
	apply(p.fileValues, LayerFile)
	apply(p.overrides, LayerOverride)

	return merged
}

// environmentLayerLocked derives section values from environment
// variables of the form <PREFIX>_<PLUGIN>_<KEY>. Plugin and key segments
// are lowercased; the key may itself contain underscores.
func (p *ConfigProvider) environmentLayerLocked() map[string]map[string]any {
	if p.envPrefix == "" {
		return nil
	}

	// Only plugins known to another layer get environment sections, so
	// an unrelated variable sharing the prefix cannot invent a section.
	known := make(map[string]bool)
	for plugin := range p.defaults {
		known[plugin] = true
	}
	for plugin := range p.fileValues {
		known[plugin] = true
	}
	for plugin := range p.overrides {
		known[plugin] = true
	}

	prefix := p.envPrefix + "_"
	result := make(map[string]map[string]any)

	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, prefix) {
			continue
		}
		pair := strings.SplitN(entry, "=", 2)
		if len(pair) != 2 {
			continue
		}

		rest := strings.TrimPrefix(pair[0], prefix)
		segments := strings.SplitN(rest, "_", 2)
		if len(segments) != 2 {
			continue
		}

		plugin := strings.ToLower(segments[0])
		key := strings.ToLower(segments[1])
		if !known[plugin] {
			continue
		}

		if result[plugin] == nil {
			result[plugin] = make(map[string]any)
		}
		result[plugin][key] = pair[1]
	}

	return result
}

var configPlaceholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandPlaceholders substitutes ${VAR} and ${VAR:-default} in a string.
// Unset variables without a default expand to the empty string.
func expandPlaceholders(input string) string {
	return configPlaceholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := configPlaceholderPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		if value, exists := os.LookupEnv(submatches[1]); exists {
			return value
		}
		if len(submatches) >= 4 {
			return submatches[3]
		}
		return ""
	})
}

// parseConfigFile decodes a plugin-section config document, JSON first
// then YAML, expanding placeholders in every string value.
func parseConfigFile(data []byte, path string) (map[string]map[string]any, error) {
	var raw map[string]map[string]any

	if err := json.Unmarshal(data, &raw); err != nil {
		if yamlErr := yaml.Unmarshal(data, &raw); yamlErr != nil {
			return nil, NewConfigParseError(path,
				fmt.Errorf("not valid JSON (%v) nor YAML (%v)", err, yamlErr))
		}
	}

	for _, section := range raw {
		for key, value := range section {
			if s, ok := value.(string); ok {
				section[key] = expandPlaceholders(s)
			}
		}
	}
	return raw, nil
}

func cloneValues(values map[string]any) map[string]any {
	clone := make(map[string]any, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}

func flatten(section map[string]configValue) map[string]any {
	flat := make(map[string]any, len(section))
	for key, entry := range section {
		flat[key] = entry.value
	}
	return flat
}

// diffSnapshots returns the sorted names of sections whose effective
// values differ between two snapshots.
func diffSnapshots(previous, next *ConfigSnapshot) []string {
	changedSet := make(map[string]bool)

	for plugin, nextSection := range next.values {
		prevSection, existed := previous.values[plugin]
		if !existed || !sectionsEqual(prevSection, nextSection) {
			changedSet[plugin] = true
		}
	}
	for plugin := range previous.values {
		if _, still := next.values[plugin]; !still {
			changedSet[plugin] = true
		}
	}

	changed := make([]string, 0, len(changedSet))
	for plugin := range changedSet {
		changed = append(changed, plugin)
	}
	sort.Strings(changed)
	return changed
}

func sectionsEqual(a, b map[string]configValue) bool {
	if len(a) != len(b) {
		return false
	}
	for key, entryA := range a {
		entryB, exists := b[key]
		if !exists || entryA.layer != entryB.layer {
			return false
		}
		if fmt.Sprintf("%v", entryA.value) != fmt.Sprintf("%v", entryB.value) {
			return false
		}
	}
	return true
}
