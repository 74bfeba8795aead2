package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager owns the active configuration. Reload goes through the same
// defaults -> file -> environment -> validate pipeline as the initial load;
// a reload that fails validation keeps the previous configuration.
type Manager struct {
	logger *zap.Logger
	path   string

	mu      sync.RWMutex
	current *Config

	callbackMu sync.Mutex
	callbacks  []func(*Config)

	watcher *Watcher
}

// NewManager loads the initial configuration from path
func NewManager(logger *zap.Logger, path string) (*Manager, error) {
	m := &Manager{
		logger: logger,
		path:   path,
	}
	if err := m.Reload(); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	return m, nil
}

// Get returns a copy of the active configuration. Setting fields on the
// copy does not touch the live config; a changed copy goes back through
// Save and Reload.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.current
	return &cfg
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.path
}

// Reload rebuilds the configuration from disk and environment and swaps it
// in, notifying change callbacks.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	m.notify(cfg)
	return nil
}

// OnChange registers a callback invoked after every successful reload. The
// initial load does not fire callbacks; components read Get at startup.
func (m *Manager) OnChange(fn func(*Config)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

func (m *Manager) notify(cfg *Config) {
	m.callbackMu.Lock()
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Save writes the active configuration back to the file, creating the
// directory if needed. The write goes through a temp file and rename so a
// crash cannot leave a half-written config behind.
func (m *Manager) Save() error {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(m.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	m.logger.Info("Configuration saved", zap.String("path", m.path))
	return nil
}

// StartWatcher begins hot-reloading on file changes
func (m *Manager) StartWatcher() error {
	if m.watcher != nil {
		return nil
	}

	watcher, err := NewWatcher(m.logger, m.path, func() {
		if err := m.Reload(); err != nil {
			m.logger.Error("Config reload failed, keeping previous configuration", zap.Error(err))
		} else {
			m.logger.Info("Configuration reloaded", zap.String("path", m.path))
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	m.watcher = watcher
	return nil
}

// StopWatcher stops hot-reloading
func (m *Manager) StopWatcher() {
	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
}
