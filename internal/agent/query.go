package agent

import (
	"strings"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// CompilePathFilter compiles a REST path expression scoped to a device. A
// nil device scopes across all devices; an empty expression selects the
// whole scope.
func (a *Agent) CompilePathFilter(path string, d *device.Device) (*device.PathFilter, error) {
	expr := devicesAndPath(path, d)
	return device.CompilePath(expr)
}

// devicesAndPath prefixes each path alternative with the device scope, the
// way the REST parameters are interpreted:
//
//	devicesAndPath("//Axes", dev) -> //Devices/Device[@uuid="000"]//Axes
func devicesAndPath(path string, d *device.Device) string {
	if d == nil {
		if path == "" {
			return `//Devices/Device|//Devices/Agent`
		}
		return path
	}

	var prefix string
	if d.IsAgent {
		prefix = `//Devices/Agent`
	} else {
		prefix = `//Devices/Device[@uuid="` + d.UUID() + `"]`
	}

	if path == "" {
		return prefix
	}

	parts := strings.Split(path, "|")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, "|")
}

// CurrentObservations returns the latest-value snapshot in document order,
// optionally reconstructed at sequence at, restricted by the filter.
func (a *Agent) CurrentObservations(at *uint64, filter *device.PathFilter) ([]*observation.Observation, error) {
	var view *observation.Checkpoint
	if at != nil {
		var err error
		view, err = a.buffer.CheckpointAt(*at)
		if err != nil {
			return nil, err
		}
	} else {
		view = a.buffer.LatestSnapshot()
	}

	var out []*observation.Observation
	for _, d := range a.registry.Devices() {
		for _, di := range d.DataItems() {
			if filter != nil && !filter.Matches(di) {
				continue
			}
			if obs := view.GetLatest(di.ID); obs != nil {
				out = append(out, obs)
			}
		}
	}
	return out, nil
}

// SampleObservations returns up to count observations from the given
// sequence, restricted by the filter, along with the window start and the
// resume sequence.
func (a *Agent) SampleObservations(from uint64, count int, filter *device.PathFilter) (uint64, []*observation.Observation, uint64) {
	var pred func(*observation.Observation) bool
	if filter != nil {
		pred = func(o *observation.Observation) bool {
			return o.DataItem != nil && filter.Matches(o.DataItem)
		}
	}
	return a.buffer.GetFrom(from, count, pred)
}
