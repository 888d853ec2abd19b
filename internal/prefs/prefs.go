// Package prefs defines the small key → text preference store that backs the
// region status record and the voice settings record.
package prefs

import (
	"context"
	"sync"
)

// Store is a durable key → text mapping. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key. A missing key is ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
}

// Memory is an in-process [Store]. The zero value is ready to use.
type Memory struct {
	mu   sync.Mutex
	data map[string]string

	// GetErr and SetErr, if non-nil, are returned by every Get or Set.
	GetErr error
	SetErr error
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory seeded with initial.
func NewMemory(initial map[string]string) *Memory {
	m := &Memory{data: make(map[string]string, len(initial))}
	for k, v := range initial {
		m.data[k] = v
	}
	return m
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements [Store].
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

// Raw returns the stored value without error injection. Intended for tests.
func (m *Memory) Raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}
