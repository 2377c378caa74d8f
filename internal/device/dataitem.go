package device

import (
	"strings"
)

// Category classifies a data item's stream bucket.
type Category string

// Data item categories.
const (
	CategorySample    Category = "SAMPLE"
	CategoryEvent     Category = "EVENT"
	CategoryCondition Category = "CONDITION"
)

// Representation describes the shape of a data item's values.
type Representation string

// Data item representations.
const (
	RepresentationValue      Representation = "VALUE"
	RepresentationDataSet    Representation = "DATA_SET"
	RepresentationTable      Representation = "TABLE"
	RepresentationTimeSeries Representation = "TIME_SERIES"
	RepresentationDiscrete   Representation = "DISCRETE"
)

// UnitConversion scales a native value into the data item's units.
type UnitConversion struct {
	Factor float64
	Offset float64
}

// Convert applies the conversion to a single value.
func (u UnitConversion) Convert(v float64) float64 {
	return v*u.Factor + u.Offset
}

// DataItem is a named, typed stream of values attached to a component.
//
// DataItems are owned by their Component; every other holder (the agent's
// lookup map, the circular buffer) keeps a non-owning reference that is
// rebuilt when the owning device is replaced.
type DataItem struct {
	ID             string
	Name           string
	Type           string
	SubType        string
	Category       Category
	Representation Representation
	Units          string
	NativeUnits    string
	Statistic      string

	// ConstantValue pins the data item to a single value. Observations
	// reset to it instead of UNAVAILABLE.
	ConstantValue *string

	// DataSource is the identity of the adapter that produces this item.
	// Used by the connection coordinator on disconnect.
	DataSource string

	// Topic overrides the derived pub/sub topic for this data item.
	Topic string

	discrete         bool
	filterDuplicates bool
	conversion       *UnitConversion

	comp *Component
}

// NewDataItem builds a data item from its required attributes.
// Representation defaults to VALUE.
func NewDataItem(id, typ string, category Category) *DataItem {
	return &DataItem{
		ID:             id,
		Type:           typ,
		Category:       category,
		Representation: RepresentationValue,
	}
}

// IsSample reports whether the data item carries SAMPLE values.
func (d *DataItem) IsSample() bool { return d.Category == CategorySample }

// IsCondition reports whether the data item carries CONDITION values.
func (d *DataItem) IsCondition() bool { return d.Category == CategoryCondition }

// IsDiscrete reports whether every observation is an independent occurrence,
// exempt from duplicate suppression.
func (d *DataItem) IsDiscrete() bool {
	return d.discrete || d.Representation == RepresentationDiscrete
}

// MakeDiscrete marks the data item discrete.
func (d *DataItem) MakeDiscrete() { d.discrete = true }

// IsDataSet reports whether the representation is DATA_SET or TABLE.
func (d *DataItem) IsDataSet() bool {
	return d.Representation == RepresentationDataSet || d.Representation == RepresentationTable
}

// IsTimeSeries reports whether the representation is TIME_SERIES.
func (d *DataItem) IsTimeSeries() bool {
	return d.Representation == RepresentationTimeSeries
}

// SetFilterDuplicates sets the duplicate-suppression policy consulted by the
// circular buffer at admission.
func (d *DataItem) SetFilterDuplicates(filter bool) { d.filterDuplicates = filter }

// FilterDuplicates reports whether duplicate values should be rejected at
// buffer admission. Discrete data items are never filtered.
func (d *DataItem) FilterDuplicates() bool {
	return d.filterDuplicates && !d.IsDiscrete()
}

// SetConversion installs a unit conversion, typically from a calibration
// command.
func (d *DataItem) SetConversion(conv UnitConversion) { d.conversion = &conv }

// Conversion returns the installed unit conversion, or nil.
func (d *DataItem) Conversion() *UnitConversion { return d.conversion }

// ConvertValue applies the unit conversion if one is installed.
func (d *DataItem) ConvertValue(v float64) float64 {
	if d.conversion == nil {
		return v
	}
	return d.conversion.Convert(v)
}

// Component returns the owning component, or nil for an unattached item.
func (d *DataItem) Component() *Component { return d.comp }

// Device returns the owning device, or nil for an unattached item.
func (d *DataItem) Device() *Device {
	if d.comp == nil {
		return nil
	}
	return d.comp.device
}

// ObservationName returns the element name used for observations of this
// data item: the pascal-cased type, with Condition items named by level at
// print time.
func (d *DataItem) ObservationName() string {
	return pascalCase(d.Type)
}

// TopicSegment returns the data item's segment in a derived pub/sub topic:
// the pascal-cased type, a subType suffix when present, and the name (or id
// when unnamed) in brackets.
func (d *DataItem) TopicSegment() string {
	var sb strings.Builder
	sb.WriteString(pascalCase(d.Type))
	if d.SubType != "" {
		sb.WriteByte('.')
		sb.WriteString(pascalCase(d.SubType))
	}
	sb.WriteByte('[')
	if d.Name != "" {
		sb.WriteString(d.Name)
	} else {
		sb.WriteString(d.ID)
	}
	sb.WriteByte(']')
	return sb.String()
}

// Equal reports structural equality of two data items. The duplicate filter
// flag and conversion are runtime state and excluded from the comparison.
func (d *DataItem) Equal(o *DataItem) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.ID != o.ID || d.Name != o.Name || d.Type != o.Type || d.SubType != o.SubType ||
		d.Category != o.Category || d.Representation != o.Representation ||
		d.Units != o.Units || d.NativeUnits != o.NativeUnits || d.Statistic != o.Statistic ||
		d.discrete != o.discrete {
		return false
	}
	switch {
	case d.ConstantValue == nil && o.ConstantValue == nil:
	case d.ConstantValue != nil && o.ConstantValue != nil && *d.ConstantValue == *o.ConstantValue:
	default:
		return false
	}
	return true
}

// pascalCase converts SNAKE_CASE type names to PascalCase element names,
// e.g. ASSET_CHANGED -> AssetChanged.
func pascalCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}
