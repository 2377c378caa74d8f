package pipeline

import (
	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// Contract is the kernel surface the pipeline delivers into. The agent
// implements it; tests substitute their own.
type Contract interface {
	// FindDataItem resolves an adapter key (data item name or id) against
	// the named device, or the default device when deviceKey is empty.
	FindDataItem(deviceKey, key string) *device.DataItem

	// DataItemByID resolves a data item id across all devices.
	DataItemByID(id string) *device.DataItem

	// ReceiveObservation admits an observation to the buffer and fans it
	// out to the sinks.
	ReceiveObservation(obs *observation.Observation)

	// ReceiveAsset admits an asset to the store.
	ReceiveAsset(a *asset.Asset)

	// ReceiveAssetCommand handles asset removal requests.
	ReceiveAssetCommand(cmd *AssetCommand)

	// ReceiveCommand handles a `*<name>: <value>` device or adapter command.
	ReceiveCommand(deviceKey, name, value, source string)

	// ReceiveConnectionStatus drives the connection coordinator.
	ReceiveConnectionStatus(status, source string, devices []string, autoAvailable bool)

	// ReceiveDevice merges a device model received from a source.
	ReceiveDevice(d *device.Device)
}

// DeliveryTerminal is the pipeline's final transform: it routes observations
// to the kernel, assets to the store, commands to the command handler, and
// connection-status entities to the connection coordinator.
type DeliveryTerminal struct {
	contract Contract
}

// NewDeliveryTerminal creates the terminal for a kernel contract.
func NewDeliveryTerminal(contract Contract) *DeliveryTerminal {
	return &DeliveryTerminal{contract: contract}
}

// Name implements Transform.
func (*DeliveryTerminal) Name() string { return "DeliveryTerminal" }

// Guard implements Transform.
func (*DeliveryTerminal) Guard(e Entity) bool {
	switch e.(type) {
	case *Observations, *AssetEntity, *AssetCommand, *Command, *ConnectionStatus, *DeviceEntity:
		return true
	}
	return false
}

// Apply implements Transform.
func (t *DeliveryTerminal) Apply(e Entity, _ NextFunc) (Entity, error) {
	switch v := e.(type) {
	case *Observations:
		for _, obs := range v.List {
			t.contract.ReceiveObservation(obs)
		}
	case *AssetEntity:
		t.contract.ReceiveAsset(v.Asset)
	case *AssetCommand:
		t.contract.ReceiveAssetCommand(v)
	case *Command:
		t.contract.ReceiveCommand(v.Device, v.Name, v.Value, v.Source)
	case *ConnectionStatus:
		t.contract.ReceiveConnectionStatus(v.Status, v.Source, v.Devices, v.AutoAvailable)
	case *DeviceEntity:
		t.contract.ReceiveDevice(v.Device)
	}
	return e, nil
}
