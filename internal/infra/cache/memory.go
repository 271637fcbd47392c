package cache

import (
	"sync"
	"time"
)

// Memory is the in-process cache tier. Entries are kept past their TTL for
// stale fallback reads until the sweeper drops them at the end of the stale
// retention window. Writes replace the whole entry atomically.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemory creates an empty memory tier.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

// Get returns the entry regardless of freshness; freshness is the caller's
// decision so stale fallback can share the same read path.
func (m *Memory) Get(key Key) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, found := m.entries[key.String()]
	return e, found
}

// Set stores the entry, replacing any previous one.
func (m *Memory) Set(key Key, e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = e
}

// Delete removes the entry.
func (m *Memory) Delete(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
}

// Sweep drops entries whose TTL plus the retention window has elapsed and
// returns how many were removed.
func (m *Memory) Sweep(retention time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if now.Sub(e.StoredAt) >= e.TTL+retention {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of resident entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
