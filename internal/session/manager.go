package session

import (
	"sync"
)

// Manager owns one engine per live event code. Engines are created on
// first use and live until Close; a host reconnecting gets the same
// engine and therefore the same authoritative state.
type Manager struct {
	c Config

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(c Config) *Manager {
	return &Manager{
		c:       c,
		engines: make(map[string]*Engine),
	}
}

// Engine returns the engine for the event code, creating it if needed.
func (m *Manager) Engine(code string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.engines[code]
	if !ok {
		e = newEngine(code, m.c)
		m.engines[code] = e
	}
	return e
}

// Lookup returns the engine for the code without creating one.
func (m *Manager) Lookup(code string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[code]
	return e, ok
}

// Close stops every engine's timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.engines {
		e.Close()
	}
	m.engines = make(map[string]*Engine)
}
