// Package statestore defines the persisted key/value layer checkout state is
// written through to. It carries no business logic: the flow controller
// decides what to persist and when, the store only gets, sets, and clears.
package statestore

import (
	"context"
	"strings"
	"sync"
)

// Prefix is the single coherent key namespace all checkout keys live under,
// allowing an atomic-looking bulk clear.
const Prefix = "anchor_events_"

// The four persisted checkout keys.
const (
	KeyStep            = Prefix + "step"
	KeyFormData        = Prefix + "formData"
	KeyPaymentIntentID = Prefix + "paymentIntentId"
	KeyUserID          = Prefix + "userId"
)

// Store is a key/value durability layer scoped to a browser profile.
//
// Writes are last-write-wins with no cross-writer coordination; two tabs of
// the same profile racing each other is accepted best-effort behavior.
type Store interface {
	// Get returns the value for key, with ok=false when the key is absent.
	Get(ctx context.Context, profileID, key string) (value string, ok bool, err error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, profileID, key, value string) error
	// Delete removes a single key. Deleting an absent key is not an error.
	Delete(ctx context.Context, profileID, key string) error
	// Clear removes every key under Prefix for the profile.
	Clear(ctx context.Context, profileID string) error
}

// Memory is an in-process Store used by tests and single-node development.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]map[string]string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, profileID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.profiles[profileID][key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, profileID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileID]
	if !ok {
		p = make(map[string]string)
		m.profiles[profileID] = p
	}
	p[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, profileID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles[profileID], key)
	return nil
}

func (m *Memory) Clear(_ context.Context, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.profiles[profileID] {
		if strings.HasPrefix(key, Prefix) {
			delete(m.profiles[profileID], key)
		}
	}
	return nil
}
