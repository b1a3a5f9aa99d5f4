package config

import (
	"os"
	"sync"
)

// Manager holds the effective configuration: a base file with an optional
// per-environment overlay on top (config.yaml + config.production.yaml).
// Reload re-reads both files and swaps the result in atomically.
type Manager struct {
	basePath    string
	overlayPath string

	mu      sync.RWMutex
	current *Config
}

// NewManager loads the base file and, if present, the overlay.
func NewManager(basePath, overlayPath string) (*Manager, error) {
	m := &Manager{basePath: basePath, overlayPath: overlayPath}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the files. The previous config stays in place on error.
func (m *Manager) Reload() error {
	cfg, err := LoadConfig(m.basePath)
	if err != nil {
		return err
	}

	if m.overlayPath != "" {
		// A missing overlay just means no environment-specific settings.
		if err := decodeFile(m.overlayPath, cfg); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the effective config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.current
	return &effective
}
