// config_watcher_test.go: Tests for configuration hot reload
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/argus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietWatcherOptions(t *testing.T) ConfigWatcherOptions {
	t.Helper()
	options := DefaultConfigWatcherOptions()
	options.PollInterval = 20 * time.Millisecond
	options.CacheTTL = 10 * time.Millisecond
	options.Audit = argus.AuditConfig{Enabled: false}
	return options
}

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestNewConfigWatcher_LoadsFileImmediately(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json",
		`{"billing": {"timeout": "30s"}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)
	defer watcher.Stop()

	section := provider.Snapshot().Section("billing")
	assert.Equal(t, 30*time.Second, section.GetDuration("timeout", 0))
}

func TestNewConfigWatcher_FailsFastOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "broken.json", `{"not valid`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	_, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.Error(t, err, "a malformed file must fail watcher construction")
	assert.Equal(t, ErrCodeConfigParseError, ErrorCode(err))
}

func TestNewConfigWatcher_FailsFastOnMissingFile(t *testing.T) {
	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	_, err := NewConfigWatcher(provider, filepath.Join(t.TempDir(), "absent.json"),
		NewTestLogger(), quietWatcherOptions(t))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfigFileError, ErrorCode(err))
}

func TestConfigWatcher_StartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 128}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)

	assert.False(t, watcher.Enabled())
	require.NoError(t, watcher.Start())
	assert.True(t, watcher.Enabled())

	// Second Start is a no-op.
	require.NoError(t, watcher.Start())

	require.NoError(t, watcher.Stop())
	assert.False(t, watcher.Enabled())
	require.NoError(t, watcher.Stop(), "Stop must be idempotent")

	err = watcher.Start()
	require.Error(t, err, "a stopped watcher cannot be restarted")
	assert.Equal(t, ErrCodeConfigWatcherError, ErrorCode(err))
}

func TestConfigWatcher_ChangeRebuildsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 128}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)
	defer watcher.Stop()

	before := provider.Snapshot().Version()
	writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 256}}`)

	// Drive the change handler directly; the Argus polling loop is
	// exercised by its own test suite.
	watcher.handleChange(argus.ChangeEvent{Path: path, ModTime: time.Now(), Size: 1})

	snapshot := provider.Snapshot()
	assert.Greater(t, snapshot.Version(), before, "reload should publish a new version")
	assert.Equal(t, 256, snapshot.Section("cache").GetInt("size", 0))
}

func TestConfigWatcher_DeleteKeepsLastSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 128}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)
	defer watcher.Stop()

	before := provider.Snapshot().Version()
	watcher.handleChange(argus.ChangeEvent{Path: path, IsDelete: true})

	assert.Equal(t, before, provider.Snapshot().Version(),
		"deleting the file must not drop the last good snapshot")
	assert.Equal(t, 128, provider.Snapshot().Section("cache").GetInt("size", 0))
}

func TestConfigWatcher_BadEditKeepsPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 128}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)
	defer watcher.Stop()

	before := provider.Snapshot().Version()
	writeConfigFile(t, dir, "runtime.json", `{"cache": {`)

	watcher.handleChange(argus.ChangeEvent{Path: path, ModTime: time.Now(), Size: 1})

	assert.Equal(t, before, provider.Snapshot().Version(),
		"a malformed edit must not publish a new snapshot")
	assert.Equal(t, 128, provider.Snapshot().Section("cache").GetInt("size", 0))
}

func TestConfigWatcher_IgnoresChangesAfterStop(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 128}}`)

	provider := NewConfigProvider("HOSTKIT", NewTestLogger())
	watcher, err := NewConfigWatcher(provider, path, NewTestLogger(), quietWatcherOptions(t))
	require.NoError(t, err)
	require.NoError(t, watcher.Stop())

	before := provider.Snapshot().Version()
	writeConfigFile(t, dir, "runtime.json", `{"cache": {"size": 512}}`)
	watcher.handleChange(argus.ChangeEvent{Path: path, ModTime: time.Now(), Size: 1})

	assert.Equal(t, before, provider.Snapshot().Version())
}
