package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

type stubSource struct {
	identity string
	loopback bool
	started  bool
	stopped  bool
}

func (s *stubSource) Identity() string            { return s.identity }
func (s *stubSource) IsLoopback() bool            { return s.loopback }
func (s *stubSource) Start(context.Context) error { s.started = true; return nil }
func (s *stubSource) Stop()                       { s.stopped = true }

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(nil)
	a := &stubSource{identity: "a"}
	b := &stubSource{identity: "b"}
	m.Add(a)
	m.Add(b)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, a.started)
	assert.True(t, b.started)

	m.Stop()
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}

func TestManagerRemove(t *testing.T) {
	m := NewManager(nil)
	loop := &stubSource{identity: "loopback", loopback: true}
	ext := &stubSource{identity: "ext"}
	m.Add(loop)
	m.Add(ext)

	assert.True(t, m.HasNonLoopback())

	removed := m.Remove("ext")
	require.NotNil(t, removed)
	assert.True(t, ext.stopped)
	assert.False(t, m.HasNonLoopback())

	assert.Nil(t, m.Remove("missing"))
}

// capture is a pipeline contract stub recording observations.
type capture struct {
	observations []*observation.Observation
}

func (c *capture) FindDataItem(string, string) *device.DataItem { return nil }
func (c *capture) DataItemByID(string) *device.DataItem         { return nil }
func (c *capture) ReceiveObservation(o *observation.Observation) {
	c.observations = append(c.observations, o)
}
func (c *capture) ReceiveAsset(*asset.Asset)                              {}
func (c *capture) ReceiveAssetCommand(*pipeline.AssetCommand)             {}
func (c *capture) ReceiveCommand(string, string, string, string)          {}
func (c *capture) ReceiveConnectionStatus(string, string, []string, bool) {}
func (c *capture) ReceiveDevice(*device.Device)                           {}

func TestLoopbackReceive(t *testing.T) {
	c := &capture{}
	pipe := pipeline.New(pipeline.NewDeliveryTerminal(c))
	loop := NewLoopback(pipe, nil)
	loop.SetClock(func() time.Time {
		return time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	})

	di := device.NewDataItem("avail", "AVAILABILITY", device.CategoryEvent)
	loop.Receive(di, "AVAILABLE")

	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, "AVAILABLE", obs.Value)
	assert.Equal(t, 2021, obs.Timestamp.Year())

	// UNAVAILABLE synthesizes the sentinel, condition-aware.
	cond := device.NewDataItem("cond", "SYSTEM", device.CategoryCondition)
	loop.Receive(cond, observation.Unavailable)
	require.Len(t, c.observations, 2)
	assert.True(t, c.observations[1].IsUnavailable())
	assert.Equal(t, observation.LevelUnavailable, c.observations[1].Level)

	assert.True(t, loop.IsLoopback())
	assert.Equal(t, LoopbackIdentity, loop.Identity())
}
