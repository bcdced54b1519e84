// ABOUTME: In-memory Backend implementation for testing
// ABOUTME: Allows tests to run without touching disk and to inject storage failures

package store

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend is an in-memory Backend for tests. Set FailSave or FailDelete
// to make the corresponding call return an ErrStorageIO error.
type MockBackend struct {
	mu    sync.Mutex
	units map[string]*Unit // keyed by connection ID

	FailSave   bool
	FailDelete bool

	saves int
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{units: make(map[string]*Unit)}
}

// Load returns a copy of the stored unit or an empty unit.
func (m *MockBackend) Load(_ context.Context, connectionID string) (*Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.units[connectionID].clone(), nil
}

// Save stores a copy of unit.
func (m *MockBackend) Save(_ context.Context, connectionID string, unit *Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSave {
		return fmt.Errorf("%w: injected save failure", ErrStorageIO)
	}
	m.units[connectionID] = unit.clone()
	m.saves++
	return nil
}

// Delete drops the stored unit.
func (m *MockBackend) Delete(_ context.Context, connectionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete {
		return false, fmt.Errorf("%w: injected delete failure", ErrStorageIO)
	}
	_, ok := m.units[connectionID]
	delete(m.units, connectionID)
	return ok, nil
}

// Has reports whether a unit is stored for connectionID.
func (m *MockBackend) Has(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.units[connectionID]
	return ok
}

// SaveCount returns how many saves succeeded.
func (m *MockBackend) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saves
}
