// config_test.go: Tests for layered configuration and atomic snapshots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigProvider_LayerPrecedence(t *testing.T) {
	t.Setenv("HOSTKIT_BILLING_TIMEOUT", "45s")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostkit.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"billing": {"retries": 5, "endpoint": "https://file.example"}
	}`), 0o644))

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.SetDefaults("billing", map[string]any{
		"timeout":  "30s",
		"retries":  3,
		"endpoint": "https://default.example",
		"debug":    false,
	}))
	require.NoError(t, provider.LoadFile(configPath))
	require.NoError(t, provider.SetOverride("billing", "endpoint", "https://operator.example"))

	section := provider.Snapshot().Section("billing")

	// default < environment < file < override
	assert.Equal(t, 45*time.Second, section.GetDuration("timeout", 0), "env beats default")
	assert.Equal(t, 5, section.GetInt("retries", 0), "file beats default")
	assert.Equal(t, "https://operator.example", section.GetString("endpoint", ""), "override beats file")
	assert.Equal(t, false, section.GetBool("debug", true), "untouched defaults survive")

	layer, present := section.SourceOf("timeout")
	require.True(t, present)
	assert.Equal(t, LayerEnvironment, layer)
	layer, _ = section.SourceOf("endpoint")
	assert.Equal(t, LayerOverride, layer)
}

func TestConfigProvider_PlaceholderExpansion(t *testing.T) {
	t.Setenv("BILLING_HOST", "billing.internal")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostkit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"billing:\n  endpoint: \"${BILLING_HOST}:${BILLING_PORT:-8080}\"\n"), 0o644))

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.LoadFile(configPath))

	section := provider.Snapshot().Section("billing")
	assert.Equal(t, "billing.internal:8080", section.GetString("endpoint", ""),
		"set variables expand, unset ones fall back to inline defaults")
}

func TestConfigProvider_AllOrNothingValidation(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.SetDefaults("billing", map[string]any{"retries": 3}))

	provider.RegisterValidator("billing", func(section map[string]any) error {
		if retries, ok := section["retries"].(int); ok && retries > 10 {
			return fmt.Errorf("retries out of range")
		}
		return nil
	})

	before := provider.Snapshot()

	err := provider.SetOverride("billing", "retries", 99)
	require.Error(t, err, "a rejected validation must fail the reload")
	assert.Equal(t, string(ErrCodeValidationError), ErrorCode(err))

	after := provider.Snapshot()
	assert.Equal(t, before.Version(), after.Version(),
		"the previous snapshot must stay published untouched")
	assert.Equal(t, 3, after.Section("billing").GetInt("retries", 0))
}

func TestConfigProvider_SnapshotIsolation(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.SetDefaults("billing", map[string]any{"retries": 3}))

	held := provider.Snapshot()
	require.NoError(t, provider.SetOverride("billing", "retries", 7))

	assert.Equal(t, 3, held.Section("billing").GetInt("retries", 0),
		"a held snapshot never changes mid-operation")
	assert.Equal(t, 7, provider.Snapshot().Section("billing").GetInt("retries", 0))
	assert.Greater(t, provider.Snapshot().Version(), held.Version())
}

func TestConfigProvider_Subscribers(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.SetDefaults("billing", map[string]any{"retries": 3}))
	require.NoError(t, provider.SetDefaults("auth", map[string]any{"ttl": "5m"}))

	var notified [][]string
	provider.Subscribe(func(snapshot *ConfigSnapshot, changed []string) {
		notified = append(notified, changed)
	})

	require.NoError(t, provider.SetOverride("billing", "retries", 9))
	require.Len(t, notified, 1)
	assert.Equal(t, []string{"billing"}, notified[0],
		"only the changed section is reported")

	// A reload with no effective change stays silent.
	require.NoError(t, provider.Reload())
	assert.Len(t, notified, 1)
}

func TestConfigProvider_FileReload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostkit.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"billing": {"retries": 3}}`), 0o644))

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.LoadFile(configPath))
	assert.Equal(t, 3, provider.Snapshot().Section("billing").GetInt("retries", 0))

	require.NoError(t, os.WriteFile(configPath, []byte(`{"billing": {"retries": 8}}`), 0o644))
	require.NoError(t, provider.Reload())
	assert.Equal(t, 8, provider.Snapshot().Section("billing").GetInt("retries", 0),
		"Reload must re-read the remembered file")
}

func TestConfigProvider_BadFile(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())

	err := provider.LoadFile("/nonexistent/hostkit.json")
	require.Error(t, err)
	assert.Equal(t, string(ErrCodeConfigFileError), ErrorCode(err))

	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{{{"), 0o644))

	err = provider.LoadFile(badPath)
	require.Error(t, err)
	assert.Equal(t, string(ErrCodeConfigParseError), ErrorCode(err))
}

func TestConfigSection_TypedAccessors(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	require.NoError(t, provider.SetDefaults("billing", map[string]any{
		"retries":  "4",
		"debug":    "true",
		"timeout":  "90s",
		"fraction": 2.0,
	}))

	section := provider.Snapshot().Section("billing")
	assert.Equal(t, 4, section.GetInt("retries", 0), "string ints coerce")
	assert.Equal(t, true, section.GetBool("debug", false), "string bools coerce")
	assert.Equal(t, 90*time.Second, section.GetDuration("timeout", 0))
	assert.Equal(t, 2, section.GetInt("fraction", 0), "float64 from JSON coerces")
	assert.Equal(t, "fallback", section.GetString("missing", "fallback"))

	empty := provider.Snapshot().Section("unknown")
	_, present := empty.Get("anything")
	assert.False(t, present)
}
