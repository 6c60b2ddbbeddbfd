// config_watcher.go: Configuration hot reload with Argus file watching
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcherOptions tunes the behavior of a ConfigWatcher.
type ConfigWatcherOptions struct {
	// PollInterval controls how often the file is checked for changes.
	PollInterval time.Duration

	// CacheTTL bounds how long stat results are cached between polls.
	CacheTTL time.Duration

	// Audit configures the Argus audit trail for configuration changes.
	Audit argus.AuditConfig

	// ErrorHandler receives file watching errors. Defaults to logging.
	ErrorHandler func(err error, path string)
}

// DefaultConfigWatcherOptions returns production defaults: a relaxed poll
// interval, since runtime configuration changes rarely, with the audit
// trail enabled.
func DefaultConfigWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{
		PollInterval: 10 * time.Second,
		CacheTTL:     5 * time.Second,
		Audit: argus.AuditConfig{
			Enabled:       true,
			OutputFile:    "hostkit-config-audit.jsonl",
			MinLevel:      argus.AuditInfo,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
	}
}

// ConfigWatcher hot-reloads a ConfigProvider when its file changes.
//
// Every detected change triggers a full provider rebuild; a rebuild that
// fails validation leaves the previous snapshot in effect, so a bad edit
// to the file never partially applies. Stop is permanent - a stopped
// watcher cannot be restarted, create a new one instead.
type ConfigWatcher struct {
	provider *ConfigProvider
	logger   Logger
	path     string
	options  ConfigWatcherOptions

	watcher *argus.Watcher

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mu       sync.Mutex
}

// NewConfigWatcher creates a watcher binding the provider to a file path.
// The file is loaded immediately so startup fails fast on a bad config.
func NewConfigWatcher(provider *ConfigProvider, path string, logger any, options ConfigWatcherOptions) (*ConfigWatcher, error) {
	internalLogger := NewLogger(logger)

	if err := provider.LoadFile(path); err != nil {
		return nil, err
	}

	cw := &ConfigWatcher{
		provider: provider,
		logger:   internalLogger,
		path:     path,
		options:  options,
	}

	cw.watcher = argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      5,
		Audit:                options.Audit,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filePath string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, filePath)
				return
			}
			internalLogger.Error("Config file watching error", "error", err, "file", filePath)
		},
	})

	return cw, nil
}

// Start begins watching the configuration file. Idempotent; fails after
// a permanent Stop.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped.Load() {
		return NewConfigWatcherError("watcher has been permanently stopped", nil)
	}
	if !cw.enabled.CompareAndSwap(false, true) {
		return nil
	}

	if err := cw.watcher.Watch(cw.path, cw.handleChange); err != nil {
		cw.enabled.Store(false)
		return NewConfigWatcherError("failed to watch config file", err)
	}
	if err := cw.watcher.Start(); err != nil {
		cw.enabled.Store(false)
		return NewConfigWatcherError("failed to start config watcher", err)
	}

	cw.logger.Info("Configuration hot reload enabled",
		"path", cw.path,
		"poll_interval", cw.options.PollInterval)
	return nil
}

// Stop permanently stops the watcher. Safe to call multiple times.
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		cw.stopped.Store(true)
		if cw.enabled.Swap(false) {
			if argusErr := cw.watcher.Stop(); argusErr != nil {
				err = NewConfigWatcherError("failed to stop file watcher", argusErr)
			}
		}
		cw.logger.Info("Configuration hot reload stopped", "path", cw.path)
	})
	return err
}

// Enabled reports whether the watcher is actively watching.
func (cw *ConfigWatcher) Enabled() bool {
	return cw.enabled.Load()
}

// handleChange reacts to an Argus change event by rebuilding the provider
// snapshot. Deletion of the file is logged but the last good snapshot
// stays published.
func (cw *ConfigWatcher) handleChange(event argus.ChangeEvent) {
	if cw.stopped.Load() {
		return
	}

	if event.IsDelete {
		cw.logger.Warn("Configuration file deleted, keeping last snapshot", "path", event.Path)
		return
	}

	cw.logger.Debug("Configuration file change detected",
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size)

	if err := cw.provider.Reload(); err != nil {
		cw.logger.Error("Configuration reload failed, previous snapshot retained",
			"path", event.Path,
			"error", err)
		return
	}

	cw.logger.Info("Configuration reloaded",
		"path", event.Path,
		"version", cw.provider.Snapshot().Version())
}
