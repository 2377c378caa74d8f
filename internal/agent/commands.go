package agent

import (
	"strconv"
	"strings"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

// adapterDataItems maps adapter commands to the agent-device data item
// suffix they feed.
var adapterDataItems = map[string]string{
	"adapterversion":   "_adapter_software_version",
	"mtconnectversion": "_mtconnect_version",
}

// ReceiveCommand implements the pipeline contract for `*<name>: <value>`
// records. Device commands mutate the addressed device's metadata; adapter
// commands feed the agent device; unknown commands are logged and ignored.
func (a *Agent) ReceiveCommand(deviceKey, command, value, src string) {
	d := a.registry.FindByUUIDOrName(deviceKey)
	if d == nil {
		a.logger.Error("command for unknown device", "command", command, "device", deviceKey)
		return
	}

	oldUUID := d.UUID()
	oldName := d.Name()

	switch command {
	case "uuid":
		if d.PreserveUUID {
			a.logger.Debug("device preserves its uuid, ignoring command", "device", oldUUID)
			return
		}
		if err := a.registry.ModifyUUID(d, value); err != nil {
			a.logger.Error("re-keying device", "uuid", value, "error", err)
			return
		}
		a.deviceChanged(d, oldUUID, oldName)

	case "manufacturer":
		d.SetManufacturer(value)
		a.deviceChanged(d, oldUUID, oldName)
	case "station":
		d.SetStation(value)
		a.deviceChanged(d, oldUUID, oldName)
	case "serialnumber":
		d.SetSerialNumber(value)
		a.deviceChanged(d, oldUUID, oldName)
	case "description":
		d.SetDescriptionText(value)
		a.deviceChanged(d, oldUUID, oldName)
	case "nativename":
		d.SetNativeName(value)
		a.deviceChanged(d, oldUUID, oldName)

	case "calibration":
		a.applyCalibration(d, value)
		a.deviceChanged(d, oldUUID, oldName)

	default:
		suffix, ok := adapterDataItems[command]
		if !ok {
			a.logger.Warn("unknown command", "command", command, "device", deviceKey)
			return
		}
		di := a.agentDeviceItem(adapterID(src) + suffix)
		if di == nil {
			a.logger.Warn("cannot find agent data item for adapter command",
				"command", command, "value", value, "adapter", src)
			return
		}
		a.loopback.Receive(di, value)
	}
}

// agentDeviceItem resolves a data item on the agent device.
func (a *Agent) agentDeviceItem(id string) *device.DataItem {
	if a.agentDevice == nil {
		return nil
	}
	return a.agentDevice.DataItemByID(id)
}

// applyCalibration parses pipe-separated name|factor|offset triples and
// installs a unit conversion on each named data item.
func (a *Agent) applyCalibration(d *device.Device, value string) {
	parts := strings.Split(value, "|")
	for i := 0; i+2 < len(parts); i += 3 {
		name, factorStr, offsetStr := parts[i], parts[i+1], parts[i+2]

		di := d.DataItemByName(name)
		if di == nil {
			a.logger.Warn("cannot find data item to calibrate", "name", name)
			continue
		}

		factor, err := strconv.ParseFloat(factorStr, 64)
		if err != nil {
			a.logger.Warn("invalid calibration factor", "name", name, "factor", factorStr)
			continue
		}
		offset, err := strconv.ParseFloat(offsetStr, 64)
		if err != nil {
			a.logger.Warn("invalid calibration offset", "name", name, "offset", offsetStr)
			continue
		}

		di.SetConversion(device.UnitConversion{Factor: factor, Offset: offset})
	}
}

// deviceChanged reacts to a field-level device mutation. Only a uuid or name
// change has any effect: the descriptor is versioned, the model change time
// advances, and a uuid change emits device_removed for the old uuid then
// device_added for the new one, while a name-only change emits
// device_changed. Mutations of other fields emit nothing.
func (a *Agent) deviceChanged(d *device.Device, oldUUID, oldName string) {
	uuidChanged := d.UUID() != oldUUID
	nameChanged := d.Name() != oldName

	if !uuidChanged && !nameChanged {
		return
	}

	a.versionDeviceXML()
	a.setModelChangeTime()

	if a.agentDevice != nil {
		if uuidChanged {
			if di := a.agentDevice.DataItemByName("device_removed"); di != nil {
				a.loopback.Receive(di, oldUUID)
			}
			if di := a.agentDevice.DataItemByName("device_added"); di != nil {
				a.loopback.Receive(di, d.UUID())
			}
		} else {
			if di := a.agentDevice.DataItemByName("device_changed"); di != nil {
				a.loopback.Receive(di, d.UUID())
			}
		}
	}
	a.sinks.PublishDeviceChange(d)
}
