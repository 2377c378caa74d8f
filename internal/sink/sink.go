package sink

import (
	"context"
	"sync"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// Logger is the narrow logging interface used by sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sink consumes the agent's three feed kinds: observations, assets, and
// device-model changes.
//
// The kernel calls Publish* in admission order after the entity is admitted;
// a sink must not block the caller beyond the publish call itself, so
// batching and backpressure are the sink's private responsibility.
type Sink interface {
	Name() string
	Start(ctx context.Context) error
	Stop()

	PublishObservation(obs *observation.Observation)
	PublishAsset(a *asset.Asset)
	PublishDeviceChange(d *device.Device)
}

// Manager owns the lifecycle of the agent's sinks and fans entities out to
// them in registration order.
type Manager struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewManager creates an empty sink manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add registers a sink. Registration order is fan-out order.
func (m *Manager) Add(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Start starts every sink in registration order, stopping at the first
// failure: the agent treats a sink startup failure as fatal.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every sink in reverse registration order, flushing pending
// output per each sink's policy.
func (m *Manager) Stop() {
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	for i := len(sinks) - 1; i >= 0; i-- {
		sinks[i].Stop()
	}
}

// PublishObservation fans an admitted observation out to every sink.
func (m *Manager) PublishObservation(obs *observation.Observation) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.PublishObservation(obs)
	}
}

// PublishAsset fans an asset change out to every sink.
func (m *Manager) PublishAsset(a *asset.Asset) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.PublishAsset(a)
	}
}

// PublishDeviceChange fans a device-model change out to every sink.
func (m *Manager) PublishDeviceChange(d *device.Device) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.PublishDeviceChange(d)
	}
}

// Sinks returns a snapshot of the registered sinks.
func (m *Manager) Sinks() []Sink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sink(nil), m.sinks...)
}
