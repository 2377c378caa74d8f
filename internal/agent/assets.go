package agent

import (
	"strings"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
	"github.com/SMSLab-dev/mtconnect-agent/internal/source"
)

// ReceiveAsset admits an asset: the owning device is resolved, an
// @-prefixed id is canonicalized against the device uuid, the store is
// upserted, the sinks are fed, and ASSET_CHANGED (or ASSET_REMOVED) plus the
// asset counts are synthesized through the loopback.
func (a *Agent) ReceiveAsset(as *asset.Asset) {
	d := a.registry.FindByUUIDOrName(as.DeviceUUID)

	if d != nil {
		// Canonicalize @-prefixed ids: strip the marker and prepend the
		// owning device's uuid. Idempotent by construction.
		if strings.HasPrefix(as.AssetID, "@") {
			as.AssetID = d.UUID() + as.AssetID[1:]
		}
		if as.DeviceUUID != d.UUID() {
			as.DeviceUUID = d.UUID()
		}
	}

	if as.Timestamp.IsZero() {
		as.Timestamp = a.now()
	}

	a.assets.AddAsset(as)
	a.updateAssetMetrics()

	a.sinks.PublishAsset(as)

	if d == nil {
		return
	}

	var di *device.DataItem
	if as.Removed {
		di = d.AssetRemoved()
	} else {
		di = d.AssetChanged()
	}
	if di != nil {
		a.loopback.ReceiveWithProperties(di, source.Properties{
			Value:     as.AssetID,
			AssetType: as.Type,
			Timestamp: as.Timestamp,
		})
	}

	a.updateAssetCounts(d, as.Type)
}

// RemoveAsset tombstones the asset with the given id, fans the updated asset
// out to the sinks, synthesizes ASSET_REMOVED, and resets ASSET_CHANGED to
// UNAVAILABLE when it pointed at the removed id. Returns whether the id
// resolved.
func (a *Agent) RemoveAsset(d *device.Device, id string) bool {
	removed := a.assets.RemoveAsset(id, a.now())
	if removed == nil {
		return false
	}
	a.updateAssetMetrics()

	a.sinks.PublishAsset(removed)

	if d == nil {
		d = a.registry.FindByUUIDOrName(removed.DeviceUUID)
	}
	a.notifyAssetRemoved(d, removed)
	if d != nil {
		a.updateAssetCounts(d, removed.Type)
	}
	return true
}

// RemoveAllAssets tombstones every matching asset, notifying per asset and
// recomputing the affected device counts.
func (a *Agent) RemoveAllAssets(deviceKey, typ string, before *time.Time) []*asset.Asset {
	var uuid string
	var d *device.Device
	if deviceKey != "" {
		d = a.registry.FindByUUIDOrName(deviceKey)
		if d != nil {
			uuid = d.UUID()
		} else {
			uuid = deviceKey
		}
	}

	removed := a.assets.RemoveAll(uuid, typ, before, a.now())
	a.updateAssetMetrics()

	for _, as := range removed {
		a.sinks.PublishAsset(as)
		a.notifyAssetRemoved(nil, as)
	}

	if d != nil {
		a.updateAssetCounts(d, typ)
	} else {
		for _, dev := range a.registry.Devices() {
			if !dev.IsAgent {
				a.updateAssetCounts(dev, typ)
			}
		}
	}
	return removed
}

// ReceiveAssetCommand implements the pipeline contract for @REMOVE_ASSET@
// and @REMOVE_ALL_ASSETS@ records.
func (a *Agent) ReceiveAssetCommand(cmd *pipeline.AssetCommand) {
	switch cmd.Command {
	case pipeline.AssetCommandRemove:
		var d *device.Device
		if cmd.Device != "" {
			d = a.registry.FindByUUIDOrName(cmd.Device)
		}
		if !a.RemoveAsset(d, cmd.AssetID) {
			a.logger.Warn("remove asset: unknown id", "id", cmd.AssetID)
		}
	case pipeline.AssetCommandRemoveAll:
		a.RemoveAllAssets(cmd.Device, cmd.Type, nil)
	default:
		a.logger.Error("invalid asset command", "command", cmd.Command)
	}
}

// notifyAssetRemoved synthesizes ASSET_REMOVED for the owning device and
// flips ASSET_CHANGED to UNAVAILABLE when the removed asset was its latest
// value.
func (a *Agent) notifyAssetRemoved(d *device.Device, as *asset.Asset) {
	if d == nil {
		if as.DeviceUUID == "" {
			return
		}
		d = a.registry.ByUUID(as.DeviceUUID)
		if d == nil {
			return
		}
	}

	if di := d.AssetRemoved(); di != nil {
		a.loopback.ReceiveWithProperties(di, source.Properties{
			Value:     as.AssetID,
			AssetType: as.Type,
		})
	}

	changed := d.AssetChanged()
	if changed == nil {
		return
	}
	if last := a.buffer.GetLatest(changed.ID); last != nil {
		if s, ok := last.Value.(string); ok && s == as.AssetID {
			a.loopback.ReceiveWithProperties(changed, source.Properties{
				Value:     observation.Unavailable,
				AssetType: as.Type,
			})
		}
	}
}

// updateAssetCounts emits the device's ASSET_COUNT data set. With a type, a
// single-entry set carrying the count (a removed marker at zero); without,
// the full per-type set with resetTriggered RESET_COUNTS and removed markers
// for types whose count dropped to zero.
func (a *Agent) updateAssetCounts(d *device.Device, typ string) {
	if d == nil {
		return
	}
	dc := d.AssetCount()
	if dc == nil {
		return
	}

	if typ != "" {
		count := a.assets.GetCountForDeviceAndType(d.UUID(), typ)
		set := observation.DataSet{}
		if count > 0 {
			set = append(set, observation.DataSetEntry{Key: typ, Value: int64(count)})
		} else {
			set = append(set, observation.DataSetEntry{Key: typ, Removed: true})
		}
		a.loopback.ReceiveWithProperties(dc, source.Properties{Value: set})
		return
	}

	counts := a.assets.GetCountsByTypeForDevice(d.UUID())
	set := observation.DataSet{}
	for _, t := range a.assets.TypesForDevice(d.UUID()) {
		if n := counts[t]; n > 0 {
			set = append(set, observation.DataSetEntry{Key: t, Value: int64(n)})
		} else {
			set = append(set, observation.DataSetEntry{Key: t, Removed: true})
		}
	}
	a.loopback.ReceiveWithProperties(dc, source.Properties{
		Value:          set,
		ResetTriggered: observation.ResetCounts,
	})
}

// updateAssetMetrics refreshes the stored-assets gauge.
func (a *Agent) updateAssetMetrics() {
	if a.metrics != nil {
		a.metrics.AssetsStored.Set(float64(a.assets.Count()))
	}
}
