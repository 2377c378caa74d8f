package source

import (
	"context"
	"sync"
)

// Logger is the narrow logging interface used by sources.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source produces entities into a pipeline. Each source has a unique
// identity; the loopback source is the only permitted origin for
// agent-generated observations.
type Source interface {
	// Identity returns the source's unique identity, e.g. "host:port" for
	// an SHDR adapter.
	Identity() string

	// IsLoopback reports whether this is the agent's internal source.
	IsLoopback() bool

	Start(ctx context.Context) error
	Stop()
}

// Manager owns the lifecycle of the agent's sources. Sources are shared
// between the agent and the manager; the longest holder keeps them alive.
type Manager struct {
	mu      sync.Mutex
	sources []Source
	logger  Logger
}

// NewManager creates an empty source manager.
func NewManager(logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{logger: logger}
}

// Add registers a source.
func (m *Manager) Add(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// Start starts every source in registration order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()

	for _, s := range sources {
		if err := s.Start(ctx); err != nil {
			return err
		}
		m.logger.Info("source started", "identity", s.Identity())
	}
	return nil
}

// Stop stops every source in reverse registration order.
func (m *Manager) Stop() {
	m.mu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()

	for i := len(sources) - 1; i >= 0; i-- {
		sources[i].Stop()
		m.logger.Info("source stopped", "identity", sources[i].Identity())
	}
}

// Remove stops and removes the source with the given identity, returning it.
func (m *Manager) Remove(identity string) Source {
	m.mu.Lock()
	var removed Source
	keep := m.sources[:0]
	for _, s := range m.sources {
		if removed == nil && s.Identity() == identity {
			removed = s
			continue
		}
		keep = append(keep, s)
	}
	m.sources = keep
	m.mu.Unlock()

	if removed != nil {
		removed.Stop()
	}
	return removed
}

// HasNonLoopback reports whether any external source remains.
func (m *Manager) HasNonLoopback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if !s.IsLoopback() {
			return true
		}
	}
	return false
}

// Sources returns a snapshot of the registered sources.
func (m *Manager) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Source(nil), m.sources...)
}
