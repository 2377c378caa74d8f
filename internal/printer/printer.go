package printer

import (
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// Header carries the document header fields common to every printed
// response.
type Header struct {
	CreationTime  time.Time
	Sender        string
	InstanceID    uint64
	Version       string
	BufferSize    uint64
	AssetBuffer   int
	AssetCount    int
	FirstSequence uint64
	LastSequence  uint64
	NextSequence  uint64
}

// Printer renders the agent's documents. Variants exist for XML and JSON;
// the kernel holds an id-to-printer map and never depends on which variant
// is behind it.
type Printer interface {
	PrintProbe(h Header, devices []*device.Device) ([]byte, error)
	PrintCurrent(h Header, observations []*observation.Observation) ([]byte, error)
	PrintSample(h Header, observations []*observation.Observation) ([]byte, error)
	PrintAssets(h Header, assets []*asset.Asset) ([]byte, error)
	PrintError(h Header, code, text string) ([]byte, error)

	SetSchemaVersion(version string)
	SetModelChangeTime(t string)

	// MimeType is the Content-Type the REST sink serves this printer with.
	MimeType() string
}

// timeFormat is the timestamp layout used in printed documents.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// groupByComponent splits observations by owning component, preserving
// first-seen component order and observation order within each component.
func groupByComponent(observations []*observation.Observation) ([]*device.Component, map[*device.Component][]*observation.Observation) {
	var order []*device.Component
	groups := make(map[*device.Component][]*observation.Observation)
	for _, o := range observations {
		if o.DataItem == nil || o.DataItem.Component() == nil {
			continue
		}
		c := o.DataItem.Component()
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], o)
	}
	return order, groups
}

// groupByDevice splits components by owning device preserving order.
func groupByDevice(comps []*device.Component) ([]*device.Device, map[*device.Device][]*device.Component) {
	var order []*device.Device
	groups := make(map[*device.Device][]*device.Component)
	for _, c := range comps {
		d := c.Device()
		if _, ok := groups[d]; !ok {
			order = append(order, d)
		}
		groups[d] = append(groups[d], c)
	}
	return order, groups
}
