// Package store provides an in-memory implementation of the budget
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/lawtime/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements budget.ClientStore and budget.EntryStore with the same
// version-checked commit semantics as the SQLite store.
type Memory struct {
	mu       sync.RWMutex
	clients  map[string]*budget.Client
	versions map[string]int64
	entries  map[string][]budget.TimeEntry
}

func NewMemory() *Memory {
	return &Memory{
		clients:  make(map[string]*budget.Client),
		versions: make(map[string]int64),
		entries:  make(map[string][]budget.TimeEntry),
	}
}

// SeedClient inserts or replaces a client document, resetting its version.
// Intended for test fixtures and dev seeding; production documents are
// created by administrative flows outside this core.
func (m *Memory) SeedClient(c *budget.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = cloneClient(c)
	m.versions[c.ID] = 1
}

func (m *Memory) GetClient(_ context.Context, id string) (*budget.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.clients[id]
	if !ok {
		return nil, &budget.NotFoundError{Kind: "client", ID: id}
	}
	c := cloneClient(stored)
	c.Normalize()
	c.Version = m.versions[id]
	return c, nil
}

func (m *Memory) ListClients(_ context.Context) ([]*budget.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*budget.Client, 0, len(ids))
	for _, id := range ids {
		c := cloneClient(m.clients[id])
		c.Normalize()
		c.Version = m.versions[id]
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) CommitDeduction(_ context.Context, c *budget.Client, entry budget.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.ID]; !ok {
		return &budget.NotFoundError{Kind: "client", ID: c.ID}
	}
	if m.versions[c.ID] != c.Version {
		return budget.ErrVersionConflict
	}

	m.clients[c.ID] = cloneClient(c)
	m.versions[c.ID] = c.Version + 1
	m.entries[c.ID] = append(m.entries[c.ID], entry)
	return nil
}

func (m *Memory) UpdateClient(_ context.Context, id string, fn func(fresh *budget.Client) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.clients[id]
	if !ok {
		return &budget.NotFoundError{Kind: "client", ID: id}
	}

	fresh := cloneClient(stored)
	fresh.Normalize()
	fresh.Version = m.versions[id]

	changed, err := fn(fresh)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	m.clients[id] = cloneClient(fresh)
	m.versions[id]++
	return nil
}

// =============================================================================
// ENTRY QUERIES
// =============================================================================

func (m *Memory) EntriesByClient(_ context.Context, clientID string) ([]budget.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]budget.TimeEntry(nil), m.entries[clientID]...), nil
}

func (m *Memory) EntriesByService(_ context.Context, clientID, serviceID string) ([]budget.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []budget.TimeEntry
	for _, e := range m.entries[clientID] {
		if e.ServiceID == serviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// cloneClient deep-copies a client document. The JSON round trip matches
// what the SQLite store does on every read/write, so both stores hand out
// equally detached copies.
func cloneClient(c *budget.Client) *budget.Client {
	raw, err := json.Marshal(c)
	if err != nil {
		panic("budget/store: client document not serializable: " + err.Error())
	}
	var out budget.Client
	if err := json.Unmarshal(raw, &out); err != nil {
		panic("budget/store: client document not deserializable: " + err.Error())
	}
	out.Version = c.Version
	return &out
}
