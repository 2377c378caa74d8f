package device

// Device is the root of a component tree: a machine tool, a cell, or the
// synthetic agent device.
//
// A device is identified by a stable, globally unique uuid and a secondary
// human-readable name. Its components live in an arena indexed by position;
// arena[0] is the root component carrying the device-level data items.
type Device struct {
	uuid string
	id   string

	// PreserveUUID blocks the uuid adapter command from re-keying the device.
	PreserveUUID bool

	// IsAgent marks the synthetic agent device.
	IsAgent bool

	// MTConnectVersion is the schema version the device was declared with.
	MTConnectVersion string

	arena []*Component
}

// New creates a device with an empty root component.
func New(id, name, uuid string) *Device {
	d := &Device{
		uuid: uuid,
		id:   id,
	}
	root := &Component{
		ID:     id,
		Name:   name,
		Type:   "Device",
		parent: -1,
	}
	d.attach(root)
	return d
}

// attach places a component into the arena and binds its back references.
func (d *Device) attach(c *Component) {
	c.device = d
	c.index = len(d.arena)
	d.arena = append(d.arena, c)
	if c.parent >= 0 {
		p := d.arena[c.parent]
		p.children = append(p.children, c.index)
	}
}

// AddComponent adds a child component under the given parent and returns it.
// A nil parent attaches under the root.
func (d *Device) AddComponent(parent *Component, c *Component) *Component {
	if parent == nil {
		parent = d.Root()
	}
	c.parent = parent.index
	d.attach(c)
	return c
}

// Root returns the device's root component.
func (d *Device) Root() *Component { return d.arena[0] }

// UUID returns the device uuid.
func (d *Device) UUID() string { return d.uuid }

// SetUUID re-keys the device. Callers must go through Registry.ModifyUUID so
// the registry indices stay consistent.
func (d *Device) SetUUID(uuid string) { d.uuid = uuid }

// ID returns the device's descriptor id.
func (d *Device) ID() string { return d.id }

// Name returns the device's component name.
func (d *Device) Name() string { return d.Root().Name }

// SetName renames the device.
func (d *Device) SetName(name string) { d.Root().Name = name }

// Components returns every component in arena order, root first.
func (d *Device) Components() []*Component { return d.arena }

// DataItems returns every data item of the device in arena order.
func (d *Device) DataItems() []*DataItem {
	var items []*DataItem
	for _, c := range d.arena {
		items = append(items, c.dataItems...)
	}
	return items
}

// AddDataItem adds a device-level data item to the root component.
func (d *Device) AddDataItem(di *DataItem) {
	d.Root().AddDataItem(di)
}

// DataItemByID returns the data item with the given id, or nil.
func (d *Device) DataItemByID(id string) *DataItem {
	for _, c := range d.arena {
		for _, di := range c.dataItems {
			if di.ID == id {
				return di
			}
		}
	}
	return nil
}

// DataItemByName returns the data item with the given name, falling back to
// an id match, or nil. Adapters address data items by either.
func (d *Device) DataItemByName(name string) *DataItem {
	var byID *DataItem
	for _, c := range d.arena {
		for _, di := range c.dataItems {
			if di.Name == name {
				return di
			}
			if byID == nil && di.ID == name {
				byID = di
			}
		}
	}
	return byID
}

// dataItemByType returns the first device-level data item of the given type.
func (d *Device) dataItemByType(typ string) *DataItem {
	for _, di := range d.Root().dataItems {
		if di.Type == typ {
			return di
		}
	}
	return nil
}

// Availability returns the device-level AVAILABILITY data item, or nil.
func (d *Device) Availability() *DataItem { return d.dataItemByType("AVAILABILITY") }

// AssetChanged returns the device-level ASSET_CHANGED data item, or nil.
func (d *Device) AssetChanged() *DataItem { return d.dataItemByType("ASSET_CHANGED") }

// AssetRemoved returns the device-level ASSET_REMOVED data item, or nil.
func (d *Device) AssetRemoved() *DataItem { return d.dataItemByType("ASSET_REMOVED") }

// AssetCount returns the device-level ASSET_COUNT data item, or nil.
func (d *Device) AssetCount() *DataItem { return d.dataItemByType("ASSET_COUNT") }

// Description returns the root component's description, creating it on first
// use so the device commands always have a target.
func (d *Device) Description() *Description {
	root := d.Root()
	if root.Description == nil {
		root.Description = &Description{}
	}
	return root.Description
}

// SetManufacturer updates the description's manufacturer.
func (d *Device) SetManufacturer(v string) { d.Description().Manufacturer = v }

// SetSerialNumber updates the description's serial number.
func (d *Device) SetSerialNumber(v string) { d.Description().SerialNumber = v }

// SetStation updates the description's station.
func (d *Device) SetStation(v string) { d.Description().Station = v }

// SetDescriptionText updates the description's free text.
func (d *Device) SetDescriptionText(v string) { d.Description().Text = v }

// SetNativeName updates the root component's native name.
func (d *Device) SetNativeName(v string) { d.Root().NativeName = v }

// Equal reports structural equality of two devices: same uuid, same arena
// shape, and pairwise-equal components.
func (d *Device) Equal(o *Device) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.uuid != o.uuid || d.id != o.id || len(d.arena) != len(o.arena) {
		return false
	}
	for i := range d.arena {
		a, b := d.arena[i], o.arena[i]
		if a.parent != b.parent || !a.equal(b) {
			return false
		}
	}
	return true
}
