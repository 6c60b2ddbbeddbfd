// runtime_test.go: End-to-end tests for the runtime composition root
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runtimePlugin is a minimal plugin that registers its provided
// capabilities as instances and exposes one echo operation per name in
// operations.
type runtimePlugin struct {
	startErr   error
	operations []string
}

func (p *runtimePlugin) Initialize(_ context.Context, pctx *PluginContext) error {
	for _, capability := range pctx.Manifest().Provides {
		if err := pctx.RegisterInstance(capability, string(capability)+"-impl"); err != nil {
			return err
		}
	}
	return nil
}

func (p *runtimePlugin) Start(_ context.Context, pctx *PluginContext) error {
	if p.startErr != nil {
		return p.startErr
	}
	for _, name := range p.operations {
		err := pctx.ExposeOperation(OperationSpec{
			Name: name,
			Handler: func(_ context.Context, req Request) (Response, error) {
				return Response{Payload: req.Payload}, nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *runtimePlugin) Stop(_ context.Context) error { return nil }

func (p *runtimePlugin) Health(_ context.Context) HealthStatus {
	return HealthStatus{Level: HealthHealthy}
}

func testRuntimeOptions() RuntimeOptions {
	options := DefaultRuntimeOptions()
	options.Logger = NewTestLogger()
	options.Metrics = NewInMemoryMetricsCollector()
	options.Tracer = NoOpTracingProvider{}
	options.Health.Interval = 0 // probing is covered by the health tests
	options.Lifecycle = LifecycleOptions{
		InitTimeout:       2 * time.Second,
		StartTimeout:      2 * time.Second,
		StopTimeout:       2 * time.Second,
		MaxParallelStarts: 4,
	}
	return options
}

// newTestRuntime wires a three-plugin host: database provides "db",
// billing consumes it and exposes billing.charge, and reporting depends
// on billing.
func newTestRuntime(t *testing.T, mutate func(map[string]*runtimePlugin)) *Runtime {
	t.Helper()

	rt, err := NewRuntime(testRuntimeOptions())
	require.NoError(t, err)

	plugins := map[string]*runtimePlugin{
		"database":  {},
		"billing":   {operations: []string{"billing.charge"}},
		"reporting": {operations: []string{"reporting.summary"}},
	}
	if mutate != nil {
		mutate(plugins)
	}

	source := NewPackageSource("builtin")
	manifests := []*PluginManifest{
		{Name: "database", Version: "1.0.0", Provides: []CapabilityType{"db"}},
		{Name: "billing", Version: "1.2.0", Requires: []CapabilityType{"db"}, Provides: []CapabilityType{"payments"}},
		{Name: "reporting", Version: "0.9.0", Requires: []CapabilityType{"payments"}},
	}
	for _, manifest := range manifests {
		require.NoError(t, source.Add(manifest))
	}
	rt.AddSource(source)

	for name, plugin := range plugins {
		p := plugin
		rt.RegisterFactory(name, func(_ *PluginManifest) (Plugin, error) {
			return p, nil
		})
	}
	return rt
}

func TestRuntime_EndToEnd(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown(ctx)

	for _, status := range rt.Status() {
		assert.Equal(t, StateRunning, status.State, "plugin %s should be running", status.Name)
	}

	// Capabilities registered during Initialize are resolvable.
	db, err := rt.Registry().Resolve("db")
	require.NoError(t, err)
	assert.Equal(t, "db-impl", db)

	// Routing goes through the middleware chain and fills correlation.
	resp, err := rt.Route(ctx, "billing.charge", Request{Payload: "invoice-42"})
	require.NoError(t, err)
	assert.Equal(t, "invoice-42", resp.Payload)
	assert.NotEmpty(t, resp.CorrelationID, "router should assign a correlation ID")

	operations := rt.Catalog().ListOperations()
	require.Len(t, operations, 2)
	assert.Equal(t, "billing.charge", operations[0].Name)
	assert.Equal(t, "reporting.summary", operations[1].Name)
}

func TestRuntime_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown(ctx)

	require.NoError(t, rt.Start(ctx), "second Start must be a no-op")
	assert.Len(t, rt.Status(), 3)
}

func TestRuntime_HostCapabilitySatisfiesExternalRequirement(t *testing.T) {
	ctx := context.Background()

	rt, err := NewRuntime(testRuntimeOptions())
	require.NoError(t, err)

	source := NewPackageSource("builtin")
	require.NoError(t, source.Add(&PluginManifest{
		Name: "mailer", Version: "1.0.0", Requires: []CapabilityType{"smtp"},
	}))
	rt.AddSource(source)
	rt.RegisterFactory("mailer", func(_ *PluginManifest) (Plugin, error) {
		return &runtimePlugin{}, nil
	})

	// No plugin provides "smtp"; the hosting process does.
	require.NoError(t, rt.Registry().RegisterInstance("smtp", "smtp-client"))

	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown(ctx)

	state, err := rt.lifecycle.PluginState("mailer")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
}

func TestRuntime_CriticalFailureAbortsStart(t *testing.T) {
	ctx := context.Background()

	rt, err := NewRuntime(testRuntimeOptions())
	require.NoError(t, err)

	source := NewPackageSource("builtin")
	require.NoError(t, source.Add(&PluginManifest{
		Name: "database", Version: "1.0.0", Provides: []CapabilityType{"db"}, Critical: true,
	}))
	rt.AddSource(source)
	rt.RegisterFactory("database", func(_ *PluginManifest) (Plugin, error) {
		return &runtimePlugin{startErr: os.ErrDeadlineExceeded}, nil
	})

	err = rt.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrCodeCriticalFailure, ErrorCode(err))
}

func TestRuntime_DrainPlugin(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown(ctx)

	require.NoError(t, rt.DrainPlugin("billing"))

	// The plugin stays Running but no longer receives traffic.
	state, err := rt.lifecycle.PluginState("billing")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	_, err = rt.Route(ctx, "billing.charge", Request{})
	require.Error(t, err)
	assert.Equal(t, ErrCodePluginNotRunning, ErrorCode(err))

	// The rejection names the plugin's actual state, not a guess.
	var structured *errors.Error
	require.True(t, stderrors.As(err, &structured))
	assert.Equal(t, StateRunning.String(), structured.Context["state"])

	err = rt.DrainPlugin("unknown")
	require.Error(t, err)
	assert.Equal(t, ErrCodePluginNotFound, ErrorCode(err))
}

func TestRuntime_StopPluginCascades(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Start(ctx))
	defer rt.Shutdown(ctx)

	require.NoError(t, rt.StopPlugin(ctx, "billing"))

	billing, err := rt.lifecycle.PluginState("billing")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, billing)

	// reporting depends on billing, so it stopped too; database did not.
	reporting, err := rt.lifecycle.PluginState("reporting")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, reporting)

	database, err := rt.lifecycle.PluginState("database")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, database)
}

func TestRuntime_ShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Start(ctx))

	require.NoError(t, rt.Shutdown(ctx))
	require.NoError(t, rt.Shutdown(ctx))

	for _, status := range rt.Status() {
		assert.Equal(t, StateStopped, status.State)
	}
}

func TestRuntime_ConfigFileAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"billing": {"retries": 3}}`), 0o644))

	options := testRuntimeOptions()
	options.ConfigFile = path

	rt, err := NewRuntime(options)
	require.NoError(t, err)

	assert.Equal(t, 3, rt.Config().Snapshot().Section("billing").GetInt("retries", 0))

	require.NoError(t, os.WriteFile(path, []byte(`{"billing": {"retries": 9}}`), 0o644))
	require.NoError(t, rt.Reload())
	assert.Equal(t, 9, rt.Config().Snapshot().Section("billing").GetInt("retries", 0))
}

func TestRuntime_BadConfigFileFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"billing":`), 0o644))

	options := testRuntimeOptions()
	options.ConfigFile = path

	_, err := NewRuntime(options)
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfigParseError, ErrorCode(err))
}

func TestNewRuntime_NilLoggerDefaultsToConsole(t *testing.T) {
	options := testRuntimeOptions()
	options.Logger = nil

	rt, err := NewRuntime(options)
	require.NoError(t, err)

	_, silent := rt.logger.(*NoOpLogger)
	assert.False(t, silent, "the runtime default logger must not be silent")
	assert.IsType(t, &ZerologAdapter{}, rt.logger)
}

func TestDefaultRuntimeOptions_HonorsEnvironment(t *testing.T) {
	t.Setenv(envWorkers, "8")
	t.Setenv(envHealthInterval, "45s")
	t.Setenv(envShutdownDeadline, "90s")

	options := DefaultRuntimeOptions()
	assert.Equal(t, 8, options.Lifecycle.MaxParallelStarts)
	assert.Equal(t, 45*time.Second, options.Health.Interval)
	assert.Equal(t, 90*time.Second, options.ShutdownDeadline)
}

func TestDefaultRuntimeOptions_IgnoresMalformedEnvironment(t *testing.T) {
	t.Setenv(envWorkers, "not-a-number")
	t.Setenv(envHealthInterval, "-5s")

	options := DefaultRuntimeOptions()
	defaults := DefaultLifecycleOptions()
	assert.Equal(t, defaults.MaxParallelStarts, options.Lifecycle.MaxParallelStarts)
	assert.Equal(t, DefaultHealthCheckerOptions().Interval, options.Health.Interval)
}
