package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local ActiveBotRegistry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ ActiveBotRegistry = (*Memory)(nil)

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Register(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.BotID] = entry
	return nil
}

func (m *Memory) Deregister(_ context.Context, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, botID)
	return nil
}

func (m *Memory) Get(_ context.Context, botID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[botID]
	return e, ok, nil
}

// Touch records the time of the last evaluation. Unknown bots are ignored.
func (m *Memory) Touch(_ context.Context, botID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[botID]; ok {
		e.LastCheck = at
		m.entries[botID] = e
	}
	return nil
}

// List returns all entries ordered by bot id.
func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}
