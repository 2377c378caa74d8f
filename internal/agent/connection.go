package agent

import (
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

// Connection status values carried by the agent device's per-adapter
// connection_status data items.
const (
	connectionListening   = "LISTENING"
	connectionEstablished = "ESTABLISHED"
	connectionClosed      = "CLOSED"
)

// ReceiveConnectionStatus implements the pipeline contract: adapter
// connect/disconnect events drive the connection coordinator.
func (a *Agent) ReceiveConnectionStatus(status, src string, devices []string, autoAvailable bool) {
	switch status {
	case pipeline.StatusConnecting:
		a.connecting(src)
	case pipeline.StatusConnected:
		a.connected(src, devices, autoAvailable)
	case pipeline.StatusDisconnected:
		a.disconnected(src, devices, autoAvailable)
	default:
		a.logger.Error("unexpected connection status received", "status", status)
	}
}

// connecting marks the adapter's connection_status LISTENING.
func (a *Agent) connecting(adapter string) {
	if di := a.connectionStatusItem(adapter); di != nil {
		a.loopback.Receive(di, connectionListening)
	}
}

// connected marks the adapter ESTABLISHED and, with autoAvailable, flips the
// named devices' AVAILABILITY to AVAILABLE.
func (a *Agent) connected(adapter string, devices []string, autoAvailable bool) {
	if di := a.connectionStatusItem(adapter); di != nil {
		a.loopback.Receive(di, connectionEstablished)
	}
	if a.metrics != nil {
		a.metrics.AdaptersConnected.Inc()
	}

	if !autoAvailable {
		return
	}

	for _, name := range devices {
		d := a.registry.FindByUUIDOrName(name)
		if d == nil {
			a.logger.Warn("cannot find device for connected adapter", "device", name, "adapter", adapter)
			continue
		}
		if avail := d.Availability(); avail != nil {
			a.loopback.Receive(avail, "AVAILABLE")
		} else {
			a.logger.Debug("device has no availability data item", "device", name)
		}
	}
}

// disconnected marks the adapter CLOSED and resets the named devices' data
// items: every item fed by this adapter, plus AVAILABILITY under
// autoAvailable, reverts to UNAVAILABLE, or to its constant value when one
// is declared. Already-unavailable items are skipped.
func (a *Agent) disconnected(adapter string, devices []string, autoAvailable bool) {
	a.logger.Debug("adapter disconnected, resetting values", "adapter", adapter)

	if di := a.connectionStatusItem(adapter); di != nil {
		a.loopback.Receive(di, connectionClosed)
	}
	if a.metrics != nil {
		a.metrics.AdaptersConnected.Dec()
	}

	for _, name := range devices {
		d := a.registry.FindByUUIDOrName(name)
		if d == nil {
			a.logger.Warn("cannot find device for disconnected adapter", "device", name, "adapter", adapter)
			continue
		}

		for _, di := range d.DataItems() {
			fromAdapter := di.DataSource == adapter
			availability := autoAvailable && di.DataSource == "" && di.Type == "AVAILABILITY"
			if !fromAdapter && !availability {
				continue
			}

			last := a.buffer.GetLatest(di.ID)
			if last == nil {
				continue
			}

			var value string
			switch {
			case di.ConstantValue != nil:
				value = *di.ConstantValue
			case !last.IsUnavailable():
				value = observation.Unavailable
			default:
				continue
			}
			a.loopback.Receive(di, value)
		}
	}
}
