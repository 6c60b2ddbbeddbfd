// manifest.go: Plugin manifest model, parsing, and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PluginManifest describes a discovered plugin: its identity, version,
// the capabilities it provides, and the ones it requires. Manifests are
// the unit of discovery; the lifecycle manager orders startup from the
// requires/provides edges declared here.
type PluginManifest struct {
	// Name is the unique plugin identifier within a runtime.
	Name string `json:"name" yaml:"name" validate:"required,min=1,max=128"`

	// Version is the plugin's semantic version.
	Version string `json:"version" yaml:"version" validate:"required,semver"`

	// Description is free-form text shown in status output.
	Description string `json:"description,omitempty" yaml:"description,omitempty" validate:"max=512"`

	// Provides lists the capability types this plugin registers when it
	// initializes.
	Provides []CapabilityType `json:"provides,omitempty" yaml:"provides,omitempty" validate:"dive,min=1"`

	// Requires lists capability types that must be resolvable before this
	// plugin starts. Unsatisfiable entries fail startup with
	// MissingDependency.
	Requires []CapabilityType `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive,min=1"`

	// Operations optionally lists the operation names this plugin exposes.
	// When non-empty, ExposeOperation rejects names not declared here.
	Operations []string `json:"operations,omitempty" yaml:"operations,omitempty" validate:"dive,min=1"`

	// ConfigSchema optionally references the schema this plugin's config
	// section is validated against (a registered validator name).
	ConfigSchema string `json:"config_schema,omitempty" yaml:"config_schema,omitempty"`

	// Resources carries per-plugin timeout and health-probe hints that
	// override the lifecycle manager's defaults.
	Resources *ResourceHints `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Critical marks a plugin whose startup failure aborts the whole
	// runtime instead of being isolated.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`

	// Config carries plugin-specific configuration defaults, merged below
	// environment and file layers by the config provider.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Source records where the manifest was discovered. Populated by the
	// discovery engine, never by the manifest file itself.
	Source string `json:"-" yaml:"-"`
}

// ResourceHints lets a manifest tune the runtime's per-plugin budgets.
// Durations are Go duration strings ("30s", "1m"); empty fields keep the
// lifecycle defaults.
type ResourceHints struct {
	InitTimeout    string `json:"init_timeout,omitempty" yaml:"init_timeout,omitempty" validate:"omitempty,goduration"`
	StartTimeout   string `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty" validate:"omitempty,goduration"`
	StopTimeout    string `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty" validate:"omitempty,goduration"`
	HealthInterval string `json:"health_interval,omitempty" yaml:"health_interval,omitempty" validate:"omitempty,goduration"`
}

// hintDuration parses a single hint, returning the fallback when empty.
func hintDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// initTimeout, startTimeout, stopTimeout resolve the effective phase
// budgets for a manifest against the manager defaults. Validate has
// already checked the hint syntax.
func (m *PluginManifest) initTimeout(fallback time.Duration) time.Duration {
	if m.Resources == nil {
		return fallback
	}
	return hintDuration(m.Resources.InitTimeout, fallback)
}

func (m *PluginManifest) startTimeout(fallback time.Duration) time.Duration {
	if m.Resources == nil {
		return fallback
	}
	return hintDuration(m.Resources.StartTimeout, fallback)
}

func (m *PluginManifest) stopTimeout(fallback time.Duration) time.Duration {
	if m.Resources == nil {
		return fallback
	}
	return hintDuration(m.Resources.StopTimeout, fallback)
}

var (
	manifestValidator     *validator.Validate
	manifestValidatorOnce sync.Once
)

// getManifestValidator returns the shared validator instance, creating it
// on first use with the custom semver rule registered. The semver rule
// uses the same parser SemVer does, so a validated version always parses.
func getManifestValidator() *validator.Validate {
	manifestValidatorOnce.Do(func() {
		manifestValidator = validator.New()
		_ = manifestValidator.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			_, err := semver.NewVersion(fl.Field().String())
			return err == nil
		})
		_ = manifestValidator.RegisterValidation("goduration", func(fl validator.FieldLevel) bool {
			parsed, err := time.ParseDuration(fl.Field().String())
			return err == nil && parsed > 0
		})
	})
	return manifestValidator
}

// Validate checks the manifest against its declared constraints and
// returns a ManifestError naming every violated field.
func (m *PluginManifest) Validate() error {
	if err := getManifestValidator().Struct(m); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return NewManifestError(m.Name, err.Error())
		}

		detail := ""
		for i, fieldErr := range validationErrors {
			if i > 0 {
				detail += "; "
			}
			detail += fmt.Sprintf("field %q failed rule %q", fieldErr.Field(), fieldErr.Tag())
		}
		return NewManifestError(m.Name, detail)
	}

	// Self-dependency is always a cycle, so reject it at parse time
	// rather than letting the dependency graph report it later.
	provided := make(map[CapabilityType]bool, len(m.Provides))
	for _, capability := range m.Provides {
		provided[capability] = true
	}
	for _, capability := range m.Requires {
		if provided[capability] {
			return NewManifestError(m.Name,
				fmt.Sprintf("capability %q is both provided and required", capability))
		}
	}

	return nil
}

// SemVer parses the manifest version. Validate must have succeeded first.
func (m *PluginManifest) SemVer() (*semver.Version, error) {
	version, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, NewManifestError(m.Name, fmt.Sprintf("invalid version %q: %v", m.Version, err))
	}
	return version, nil
}

// ParseManifest decodes manifest bytes, trying JSON first and falling
// back to YAML, then validates the result. The source string is recorded
// on the returned manifest for diagnostics.
func ParseManifest(data []byte, source string) (*PluginManifest, error) {
	var manifest PluginManifest

	if err := json.Unmarshal(data, &manifest); err != nil {
		if yamlErr := yaml.Unmarshal(data, &manifest); yamlErr != nil {
			return nil, NewManifestError(source,
				fmt.Sprintf("not valid JSON (%v) nor YAML (%v)", err, yamlErr))
		}
	}

	manifest.Source = source
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}
