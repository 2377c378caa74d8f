package device

// Verify walks the device-level requirements keyed by the effective schema
// version and creates the missing required data items with deterministic ids.
// It is idempotent; calling it twice changes nothing.
//
// Requirements:
//   - AVAILABILITY, always
//   - ASSET_CHANGED at version >= 1.2, made discrete at >= 1.5
//   - ASSET_REMOVED at version >= 1.3
//   - ASSET_COUNT as DATA_SET at version >= 2.0
func Verify(d *Device, version SchemaVersion) {
	if d.Availability() == nil {
		d.AddDataItem(NewDataItem(d.ID()+"_avail", "AVAILABILITY", CategoryEvent))
	}

	if d.AssetChanged() == nil && version.AtLeast(1, 2) {
		d.AddDataItem(NewDataItem(d.ID()+"_asset_chg", "ASSET_CHANGED", CategoryEvent))
	}

	if di := d.AssetChanged(); di != nil && version.AtLeast(1, 5) && !di.IsDiscrete() {
		di.MakeDiscrete()
	}

	if d.AssetRemoved() == nil && version.AtLeast(1, 3) {
		d.AddDataItem(NewDataItem(d.ID()+"_asset_rem", "ASSET_REMOVED", CategoryEvent))
	}

	if d.AssetCount() == nil && version.AtLeast(2, 0) {
		di := NewDataItem(d.ID()+"_asset_count", "ASSET_COUNT", CategoryEvent)
		di.Representation = RepresentationDataSet
		d.AddDataItem(di)
	}
}

// CarryForward copies the prior device's required device-level data items
// into the replacement when the replacement omits them, so a device reload
// does not lose availability or asset event streams. The append order
// matches Verify's creation order, so replaying an unchanged descriptor
// reproduces a structurally equal device.
func CarryForward(old, repl *Device) {
	if di := old.Availability(); di != nil && repl.Availability() == nil {
		repl.AddDataItem(cloneDataItem(di))
	}
	if di := old.AssetChanged(); di != nil && repl.AssetChanged() == nil {
		repl.AddDataItem(cloneDataItem(di))
	}
	if di := old.AssetRemoved(); di != nil && repl.AssetRemoved() == nil {
		repl.AddDataItem(cloneDataItem(di))
	}
	if di := old.AssetCount(); di != nil && repl.AssetCount() == nil {
		repl.AddDataItem(cloneDataItem(di))
	}
}

// cloneDataItem copies a data item without its component binding, for
// attachment to a replacement device.
func cloneDataItem(di *DataItem) *DataItem {
	cpy := *di
	cpy.comp = nil
	if di.ConstantValue != nil {
		v := *di.ConstantValue
		cpy.ConstantValue = &v
	}
	if di.conversion != nil {
		conv := *di.conversion
		cpy.conversion = &conv
	}
	return &cpy
}
