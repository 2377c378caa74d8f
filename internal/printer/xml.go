package printer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// XMLPrinter renders the canonical MTConnect XML documents.
type XMLPrinter struct {
	pretty          bool
	schemaVersion   string
	modelChangeTime string
}

// NewXMLPrinter creates an XML printer.
func NewXMLPrinter(pretty bool) *XMLPrinter {
	return &XMLPrinter{pretty: pretty, schemaVersion: device.DefaultSchemaVersion}
}

// SetSchemaVersion implements Printer.
func (p *XMLPrinter) SetSchemaVersion(version string) { p.schemaVersion = version }

// SetModelChangeTime implements Printer.
func (p *XMLPrinter) SetModelChangeTime(t string) { p.modelChangeTime = t }

// MimeType implements Printer.
func (p *XMLPrinter) MimeType() string { return "application/xml" }

func (p *XMLPrinter) headerAttrs(h Header, streams bool) []attr {
	attrs := []attr{
		{"creationTime", formatTime(h.CreationTime)},
		{"sender", h.Sender},
		{"instanceId", strconv.FormatUint(h.InstanceID, 10)},
		{"version", h.Version},
		{"deviceModelChangeTime", p.modelChangeTime},
		{"bufferSize", strconv.FormatUint(h.BufferSize, 10)},
	}
	if h.AssetBuffer > 0 {
		attrs = append(attrs,
			attr{"assetBufferSize", strconv.Itoa(h.AssetBuffer)},
			attr{"assetCount", strconv.Itoa(h.AssetCount)},
		)
	}
	if streams {
		attrs = append(attrs,
			attr{"firstSequence", strconv.FormatUint(h.FirstSequence, 10)},
			attr{"lastSequence", strconv.FormatUint(h.LastSequence, 10)},
			attr{"nextSequence", strconv.FormatUint(h.NextSequence, 10)},
		)
	}
	return attrs
}

// PrintProbe implements Printer.
func (p *XMLPrinter) PrintProbe(h Header, devices []*device.Device) ([]byte, error) {
	w := newXMLWriter(p.pretty)
	ns := "urn:mtconnect.org:MTConnectDevices:" + p.schemaVersion

	w.start("MTConnectDevices", attr{"xmlns", ns})
	w.element("Header", "", p.headerAttrs(h, false)...)

	w.start("Devices")
	for _, d := range devices {
		p.printDevice(w, d)
	}
	w.end()

	w.end()
	return w.bytes(), nil
}

func (p *XMLPrinter) printDevice(w *xmlWriter, d *device.Device) {
	name := "Device"
	if d.IsAgent {
		name = "Agent"
	}
	root := d.Root()
	w.start(name,
		attr{"id", d.ID()},
		attr{"name", root.Name},
		attr{"nativeName", root.NativeName},
		attr{"uuid", d.UUID()},
		attr{"mtconnectVersion", d.MTConnectVersion},
	)
	p.printComponentBody(w, root)
	w.end()
}

func (p *XMLPrinter) printComponentBody(w *xmlWriter, c *device.Component) {
	if desc := c.Description; desc != nil {
		w.element("Description", desc.Text,
			attr{"manufacturer", desc.Manufacturer},
			attr{"model", desc.Model},
			attr{"serialNumber", desc.SerialNumber},
			attr{"station", desc.Station},
		)
	}

	if items := c.DataItems(); len(items) > 0 {
		w.start("DataItems")
		for _, di := range items {
			p.printDataItem(w, di)
		}
		w.end()
	}

	if comps := c.Compositions(); len(comps) > 0 {
		w.start("Compositions")
		for _, comp := range comps {
			w.element("Composition", "",
				attr{"id", comp.ID},
				attr{"name", comp.Name},
				attr{"type", comp.Type},
			)
		}
		w.end()
	}

	if kids := c.Children(); len(kids) > 0 {
		w.start("Components")
		for _, kid := range kids {
			w.start(kid.Type,
				attr{"id", kid.ID},
				attr{"name", kid.Name},
				attr{"nativeName", kid.NativeName},
			)
			p.printComponentBody(w, kid)
			w.end()
		}
		w.end()
	}
}

func (p *XMLPrinter) printDataItem(w *xmlWriter, di *device.DataItem) {
	attrs := []attr{
		{"id", di.ID},
		{"name", di.Name},
		{"type", di.Type},
		{"subType", di.SubType},
		{"category", string(di.Category)},
		{"units", di.Units},
		{"nativeUnits", di.NativeUnits},
		{"statistic", di.Statistic},
	}
	if di.Representation != device.RepresentationValue {
		attrs = append(attrs, attr{"representation", string(di.Representation)})
	}
	if di.IsDiscrete() && di.Representation != device.RepresentationDiscrete {
		attrs = append(attrs, attr{"discrete", "true"})
	}

	if di.ConstantValue == nil {
		w.element("DataItem", "", attrs...)
		return
	}
	w.start("DataItem", attrs...)
	w.start("Constraints")
	w.element("Value", *di.ConstantValue)
	w.end()
	w.end()
}

// PrintCurrent implements Printer.
func (p *XMLPrinter) PrintCurrent(h Header, observations []*observation.Observation) ([]byte, error) {
	return p.printStreams(h, observations)
}

// PrintSample implements Printer.
func (p *XMLPrinter) PrintSample(h Header, observations []*observation.Observation) ([]byte, error) {
	return p.printStreams(h, observations)
}

func (p *XMLPrinter) printStreams(h Header, observations []*observation.Observation) ([]byte, error) {
	w := newXMLWriter(p.pretty)
	ns := "urn:mtconnect.org:MTConnectStreams:" + p.schemaVersion

	w.start("MTConnectStreams", attr{"xmlns", ns})
	w.element("Header", "", p.headerAttrs(h, true)...)
	w.start("Streams")

	comps, byComp := groupByComponent(observations)
	devs, byDev := groupByDevice(comps)
	for _, d := range devs {
		w.start("DeviceStream", attr{"name", d.Name()}, attr{"uuid", d.UUID()})
		for _, c := range byDev[d] {
			w.start("ComponentStream",
				attr{"component", c.Type},
				attr{"name", c.Name},
				attr{"componentId", c.ID},
			)
			p.printComponentObservations(w, byComp[c])
			w.end()
		}
		w.end()
	}

	w.end()
	w.end()
	return w.bytes(), nil
}

// printComponentObservations buckets a component's observations by category.
func (p *XMLPrinter) printComponentObservations(w *xmlWriter, observations []*observation.Observation) {
	buckets := []struct {
		name     string
		category device.Category
	}{
		{"Samples", device.CategorySample},
		{"Events", device.CategoryEvent},
		{"Condition", device.CategoryCondition},
	}
	for _, bucket := range buckets {
		var list []*observation.Observation
		for _, o := range observations {
			if o.DataItem.Category == bucket.category {
				list = append(list, o)
			}
		}
		if len(list) == 0 {
			continue
		}
		w.start(bucket.name)
		for _, o := range list {
			p.printObservation(w, o)
		}
		w.end()
	}
}

func (p *XMLPrinter) printObservation(w *xmlWriter, o *observation.Observation) {
	di := o.DataItem

	name := di.ObservationName()
	if di.IsCondition() {
		name = conditionElement(o.Level)
	} else {
		switch di.Representation {
		case device.RepresentationDataSet:
			name += "DataSet"
		case device.RepresentationTable:
			name += "Table"
		case device.RepresentationTimeSeries:
			name += "TimeSeries"
		}
	}

	attrs := []attr{
		{"dataItemId", di.ID},
		{"name", di.Name},
		{"subType", di.SubType},
		{"timestamp", formatTime(o.Timestamp)},
		{"sequence", strconv.FormatUint(o.Sequence, 10)},
		{"resetTriggered", o.ResetTriggered},
		{"assetType", o.AssetType},
	}
	if o.Duration > 0 {
		attrs = append(attrs, attr{"duration", trimFloat(o.Duration)})
	}
	if di.IsCondition() {
		attrs = append(attrs,
			attr{"type", di.Type},
			attr{"nativeCode", o.NativeCode},
			attr{"nativeSeverity", o.NativeSeverity},
			attr{"qualifier", o.Qualifier},
		)
	}

	switch v := o.Value.(type) {
	case observation.DataSet:
		attrs = append(attrs, attr{"count", strconv.Itoa(len(v))})
		w.start(name, attrs...)
		p.printEntries(w, v)
		w.end()
	case observation.TimeSeries:
		attrs = append(attrs,
			attr{"sampleCount", strconv.Itoa(v.Count)},
			attr{"sampleRate", trimFloat(v.Frequency)},
		)
		w.element(name, joinFloats(v.Values), attrs...)
	default:
		w.element(name, valueText(o.Value), attrs...)
	}
}

func (p *XMLPrinter) printEntries(w *xmlWriter, set observation.DataSet) {
	for _, e := range set {
		attrs := []attr{{"key", e.Key}}
		if e.Removed {
			attrs = append(attrs, attr{"removed", "true"})
			w.element("Entry", "", attrs...)
			continue
		}
		if cells, ok := e.Value.(observation.DataSet); ok {
			w.start("Entry", attrs...)
			for _, cell := range cells {
				w.element("Cell", valueText(cell.Value), attr{"key", cell.Key})
			}
			w.end()
			continue
		}
		w.element("Entry", valueText(e.Value), attrs...)
	}
}

// PrintAssets implements Printer.
func (p *XMLPrinter) PrintAssets(h Header, assets []*asset.Asset) ([]byte, error) {
	w := newXMLWriter(p.pretty)
	ns := "urn:mtconnect.org:MTConnectAssets:" + p.schemaVersion

	w.start("MTConnectAssets", attr{"xmlns", ns})
	w.element("Header", "", p.headerAttrs(h, false)...)
	w.start("Assets")
	for _, a := range assets {
		w.raw(a.Raw)
	}
	w.end()
	w.end()
	return w.bytes(), nil
}

// PrintError implements Printer.
func (p *XMLPrinter) PrintError(h Header, code, text string) ([]byte, error) {
	w := newXMLWriter(p.pretty)
	ns := "urn:mtconnect.org:MTConnectError:" + p.schemaVersion

	w.start("MTConnectError", attr{"xmlns", ns})
	w.element("Header", "", p.headerAttrs(h, false)...)
	w.start("Errors")
	w.element("Error", text, attr{"errorCode", code})
	w.end()
	w.end()
	return w.bytes(), nil
}

// conditionElement maps a condition level to its element name.
func conditionElement(level string) string {
	switch level {
	case observation.LevelNormal:
		return "Normal"
	case observation.LevelWarning:
		return "Warning"
	case observation.LevelFault:
		return "Fault"
	default:
		return "Unavailable"
	}
}

// valueText renders a scalar observation value.
func valueText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return trimFloat(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// trimFloat renders a float without a trailing ".0" noise.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// joinFloats renders a time-series sample block.
func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = trimFloat(v)
	}
	return strings.Join(parts, " ")
}
