package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

// createAgentDevice instantiates the synthetic agent device. Its uuid is a
// name-based UUIDv5 of "<address>:<port>" in the DNS namespace, so it is
// stable across restarts of the same endpoint; its id is
// "agent_<first uuid segment>".
func (a *Agent) createAgentDevice() error {
	address := a.opts.Address
	if address == "" {
		address = "127.0.0.1"
	}
	endpoint := fmt.Sprintf("%s:%d", address, a.opts.Port)

	agentUUID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(endpoint)).String()
	id := "agent_" + strings.SplitN(agentUUID, "-", 2)[0]

	d := device.New(id, "Agent", agentUUID)
	d.IsAgent = true
	d.MTConnectVersion = a.schemaVersion.String()

	d.AddDataItem(device.NewDataItem(id+"_avail", "AVAILABILITY", device.CategoryEvent))

	added := device.NewDataItem("device_added", "DEVICE_ADDED", device.CategoryEvent)
	added.Name = "device_added"
	d.AddDataItem(added)

	changed := device.NewDataItem("device_changed", "DEVICE_CHANGED", device.CategoryEvent)
	changed.Name = "device_changed"
	d.AddDataItem(changed)

	removed := device.NewDataItem("device_removed", "DEVICE_REMOVED", device.CategoryEvent)
	removed.Name = "device_removed"
	d.AddDataItem(removed)

	a.agentDevice = d
	return a.addDevice(d)
}

// AddAdapter attaches an adapter's monitoring data items to the agent
// device: connection_status plus the adapter/mtconnect version events the
// adapter commands feed. Safe to call before Start; data items added later
// are initialized immediately.
func (a *Agent) AddAdapter(identity string) {
	if a.agentDevice == nil {
		return
	}

	prefix := adapterID(identity)
	adapters := a.adaptersComponent()

	comp := &device.Component{
		ID:   prefix,
		Name: identity,
		Type: "Adapter",
	}
	a.agentDevice.AddComponent(adapters, comp)

	status := device.NewDataItem(prefix+"_connection_status", "CONNECTION_STATUS", device.CategoryEvent)
	comp.AddDataItem(status)

	swVersion := device.NewDataItem(prefix+"_adapter_software_version", "ADAPTER_SOFTWARE_VERSION", device.CategoryEvent)
	comp.AddDataItem(swVersion)

	mtcVersion := device.NewDataItem(prefix+"_mtconnect_version", "MTCONNECT_VERSION", device.CategoryEvent)
	comp.AddDataItem(mtcVersion)

	if err := a.registerDataItems(a.agentDevice, nil); err != nil {
		a.logger.Error("registering adapter data items", "adapter", identity, "error", err)
		return
	}
	if a.observationsInitialized {
		a.loopback.Receive(status, "UNAVAILABLE")
		a.loopback.Receive(swVersion, "UNAVAILABLE")
		a.loopback.Receive(mtcVersion, "UNAVAILABLE")
	}
	a.setModelChangeTime()
}

// adaptersComponent returns the agent device's Adapters container, creating
// it on first use.
func (a *Agent) adaptersComponent() *device.Component {
	for _, c := range a.agentDevice.Components() {
		if c.Type == "Adapters" {
			return c
		}
	}
	return a.agentDevice.AddComponent(nil, &device.Component{
		ID:   a.agentDevice.ID() + "_adapters",
		Type: "Adapters",
	})
}

// connectionStatusItem returns the adapter's connection_status data item.
func (a *Agent) connectionStatusItem(adapter string) *device.DataItem {
	if a.agentDevice == nil {
		return nil
	}
	return a.agentDevice.DataItemByID(adapterID(adapter) + "_connection_status")
}

// adapterID sanitizes a source identity into a data-item id prefix:
// "localhost:7878" becomes "_localhost_7878".
func adapterID(identity string) string {
	var sb strings.Builder
	sb.WriteByte('_')
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
