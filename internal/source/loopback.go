package source

import (
	"context"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

// LoopbackIdentity is the loopback source's fixed identity.
const LoopbackIdentity = "AgentSource"

// Properties carries the optional fields of a loopback observation.
type Properties struct {
	Value          any
	AssetType      string
	ResetTriggered string
	Timestamp      time.Time
}

// LoopbackSource synthesizes fully-typed observations and injects them at
// the head of its pipeline. It is the only permitted origin for
// agent-generated observations: initial values, connection status, device
// and asset change events, availability flips.
type LoopbackSource struct {
	pipe   *pipeline.Pipeline
	now    pipeline.Clock
	logger Logger
}

// NewLoopback creates the loopback source over a pipeline.
func NewLoopback(pipe *pipeline.Pipeline, logger Logger) *LoopbackSource {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoopbackSource{
		pipe:   pipe,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetClock overrides the loopback's time source, for tests.
func (l *LoopbackSource) SetClock(now pipeline.Clock) { l.now = now }

// Identity implements Source.
func (l *LoopbackSource) Identity() string { return LoopbackIdentity }

// IsLoopback implements Source.
func (l *LoopbackSource) IsLoopback() bool { return true }

// Start implements Source; the loopback has no I/O to start.
func (l *LoopbackSource) Start(context.Context) error { return nil }

// Stop implements Source.
func (l *LoopbackSource) Stop() {}

// Receive synthesizes an observation carrying a plain value.
func (l *LoopbackSource) Receive(di *device.DataItem, value any) {
	l.ReceiveWithProperties(di, Properties{Value: value})
}

// ReceiveWithProperties synthesizes an observation with full control over
// the optional fields.
func (l *LoopbackSource) ReceiveWithProperties(di *device.DataItem, props Properties) {
	if di == nil {
		l.logger.Warn("loopback receive with nil data item")
		return
	}

	ts := props.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	var obs *observation.Observation
	if s, ok := props.Value.(string); ok && s == observation.Unavailable {
		obs = observation.NewUnavailable(di, ts)
	} else {
		obs = observation.New(di, ts, props.Value)
	}
	obs.AssetType = props.AssetType
	obs.ResetTriggered = props.ResetTriggered

	if err := l.pipe.Run(&pipeline.Observations{List: []*observation.Observation{obs}}); err != nil {
		l.logger.Error("loopback delivery failed", "data_item", di.ID, "error", err)
	}
}
