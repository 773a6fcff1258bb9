package config

import (
	"log/slog"
	"sync"
)

// Manager holds the active config and re-reads it on demand, so rollout
// percentage and mode can change without a restart.
type Manager struct {
	path string

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewManager loads path once.
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, current: cfg}, nil
}

// Get returns the active config. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reload re-reads the file. An invalid file leaves the active config in place.
func (m *Manager) Reload() error {
	cfg, err := LoadConfig(m.path)
	if err != nil {
		slog.Error("Config reload rejected", "path", m.path, "error", err)
		return err
	}

	m.mu.Lock()
	m.current = cfg
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	slog.Info("Config reloaded", "path", m.path, "mode", cfg.Firewall.Mode, "rollout_percentage", cfg.Rollout.CurrentPercentage)
	return nil
}
