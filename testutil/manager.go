package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager starts, stops and rewinds a set of test components together, for
// example a memory backend and the server that inspects it.
type Manager struct {
	ctx        context.Context
	components []TestComponent
	mu         sync.RWMutex
}

// NewManager creates a new test component manager.
func NewManager(ctx context.Context) *Manager {
	return &Manager{ctx: ctx}
}

// Add registers a test component. Components start in the order added.
func (m *Manager) Add(component TestComponent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// Components returns all registered components.
func (m *Manager) Components() []TestComponent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TestComponent(nil), m.components...)
}

// Get returns the component with the given name, or nil.
func (m *Manager) Get(name string) TestComponent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, comp := range m.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

// StartAll starts all components in order and stops at the first failure.
func (m *Manager) StartAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, comp := range m.components {
		if err := comp.Start(m.ctx); err != nil {
			return fmt.Errorf("failed to start component %s: %w", comp.Name(), err)
		}
	}
	return nil
}

// StopAll stops all components in reverse order. Every component is
// stopped; the failures are joined.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		comp := m.components[i]
		if err := comp.Stop(m.ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop component %s: %w", comp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ResetAll resets every component and stops at the first failure.
func (m *Manager) ResetAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, comp := range m.components {
		if err := comp.Reset(m.ctx); err != nil {
			return fmt.Errorf("failed to reset component %s: %w", comp.Name(), err)
		}
	}
	return nil
}

// SnapshotAll captures every component, keyed by name.
func (m *Manager) SnapshotAll() (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make(map[string]interface{}, len(m.components))
	for _, comp := range m.components {
		snap, err := comp.Snapshot(m.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot component %s: %w", comp.Name(), err)
		}
		snaps[comp.Name()] = snap
	}
	return snaps, nil
}

// RestoreAll restores the components present in snaps.
func (m *Manager) RestoreAll(snaps map[string]interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, comp := range m.components {
		snap, ok := snaps[comp.Name()]
		if !ok {
			continue
		}
		if err := comp.Restore(m.ctx, snap); err != nil {
			return fmt.Errorf("failed to restore component %s: %w", comp.Name(), err)
		}
	}
	return nil
}

// Cleanup is StopAll, for use with defer or t.Cleanup.
func (m *Manager) Cleanup() error {
	return m.StopAll()
}
