package printer

import (
	"encoding/json"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// JSONPrinter renders the JSON variants of the agent's documents. Version 1
// nests repeated elements as arrays of wrapper objects; version 2 keys
// collections by element name.
type JSONPrinter struct {
	version         int
	pretty          bool
	schemaVersion   string
	modelChangeTime string
}

// NewJSONPrinter creates a JSON printer for layout version 1 or 2.
func NewJSONPrinter(version int, pretty bool) *JSONPrinter {
	if version != 1 {
		version = 2
	}
	return &JSONPrinter{
		version:       version,
		pretty:        pretty,
		schemaVersion: device.DefaultSchemaVersion,
	}
}

// SetSchemaVersion implements Printer.
func (p *JSONPrinter) SetSchemaVersion(version string) { p.schemaVersion = version }

// SetModelChangeTime implements Printer.
func (p *JSONPrinter) SetModelChangeTime(t string) { p.modelChangeTime = t }

// MimeType implements Printer.
func (p *JSONPrinter) MimeType() string { return "application/json" }

func (p *JSONPrinter) marshal(doc any) ([]byte, error) {
	if p.pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

func (p *JSONPrinter) header(h Header, streams bool) map[string]any {
	out := map[string]any{
		"creationTime":  formatTime(h.CreationTime),
		"sender":        h.Sender,
		"instanceId":    h.InstanceID,
		"version":       h.Version,
		"bufferSize":    h.BufferSize,
		"schemaVersion": p.schemaVersion,
	}
	if p.modelChangeTime != "" {
		out["deviceModelChangeTime"] = p.modelChangeTime
	}
	if h.AssetBuffer > 0 {
		out["assetBufferSize"] = h.AssetBuffer
		out["assetCount"] = h.AssetCount
	}
	if streams {
		out["firstSequence"] = h.FirstSequence
		out["lastSequence"] = h.LastSequence
		out["nextSequence"] = h.NextSequence
	}
	return out
}

// PrintProbe implements Printer.
func (p *JSONPrinter) PrintProbe(h Header, devices []*device.Device) ([]byte, error) {
	devs := make([]any, 0, len(devices))
	for _, d := range devices {
		devs = append(devs, p.jsonDevice(d))
	}

	var collection any
	if p.version == 1 {
		wrapped := make([]any, 0, len(devs))
		for _, dev := range devs {
			wrapped = append(wrapped, map[string]any{"Device": dev})
		}
		collection = wrapped
	} else {
		collection = map[string]any{"Device": devs}
	}

	return p.marshal(map[string]any{
		"MTConnectDevices": map[string]any{
			"Header":  p.header(h, false),
			"Devices": collection,
		},
	})
}

func (p *JSONPrinter) jsonDevice(d *device.Device) map[string]any {
	out := p.jsonComponent(d.Root())
	out["uuid"] = d.UUID()
	if d.MTConnectVersion != "" {
		out["mtconnectVersion"] = d.MTConnectVersion
	}
	return out
}

func (p *JSONPrinter) jsonComponent(c *device.Component) map[string]any {
	out := map[string]any{"id": c.ID}
	if c.Name != "" {
		out["name"] = c.Name
	}
	if c.NativeName != "" {
		out["nativeName"] = c.NativeName
	}

	if desc := c.Description; desc != nil {
		d := map[string]any{}
		if desc.Manufacturer != "" {
			d["manufacturer"] = desc.Manufacturer
		}
		if desc.Model != "" {
			d["model"] = desc.Model
		}
		if desc.SerialNumber != "" {
			d["serialNumber"] = desc.SerialNumber
		}
		if desc.Station != "" {
			d["station"] = desc.Station
		}
		if desc.Text != "" {
			d["value"] = desc.Text
		}
		out["Description"] = d
	}

	if items := c.DataItems(); len(items) > 0 {
		list := make([]any, 0, len(items))
		for _, di := range items {
			list = append(list, p.jsonDataItem(di))
		}
		if p.version == 1 {
			wrapped := make([]any, 0, len(list))
			for _, di := range list {
				wrapped = append(wrapped, map[string]any{"DataItem": di})
			}
			out["DataItems"] = wrapped
		} else {
			out["DataItems"] = map[string]any{"DataItem": list}
		}
	}

	if kids := c.Children(); len(kids) > 0 {
		if p.version == 1 {
			list := make([]any, 0, len(kids))
			for _, kid := range kids {
				entry := p.jsonComponent(kid)
				list = append(list, map[string]any{kid.Type: entry})
			}
			out["Components"] = list
		} else {
			grouped := make(map[string][]any)
			for _, kid := range kids {
				grouped[kid.Type] = append(grouped[kid.Type], p.jsonComponent(kid))
			}
			out["Components"] = grouped
		}
	}

	return out
}

func (p *JSONPrinter) jsonDataItem(di *device.DataItem) map[string]any {
	out := map[string]any{
		"id":       di.ID,
		"type":     di.Type,
		"category": string(di.Category),
	}
	if di.Name != "" {
		out["name"] = di.Name
	}
	if di.SubType != "" {
		out["subType"] = di.SubType
	}
	if di.Units != "" {
		out["units"] = di.Units
	}
	if di.Representation != device.RepresentationValue {
		out["representation"] = string(di.Representation)
	}
	if di.IsDiscrete() {
		out["discrete"] = true
	}
	if di.ConstantValue != nil {
		out["Constraints"] = map[string]any{"Value": *di.ConstantValue}
	}
	return out
}

// PrintCurrent implements Printer.
func (p *JSONPrinter) PrintCurrent(h Header, observations []*observation.Observation) ([]byte, error) {
	return p.printStreams(h, observations)
}

// PrintSample implements Printer.
func (p *JSONPrinter) PrintSample(h Header, observations []*observation.Observation) ([]byte, error) {
	return p.printStreams(h, observations)
}

func (p *JSONPrinter) printStreams(h Header, observations []*observation.Observation) ([]byte, error) {
	comps, byComp := groupByComponent(observations)
	devs, byDev := groupByDevice(comps)

	streams := make([]any, 0, len(devs))
	for _, d := range devs {
		var compStreams []any
		for _, c := range byDev[d] {
			compStreams = append(compStreams, p.jsonComponentStream(c, byComp[c]))
		}
		streams = append(streams, map[string]any{
			"name":            d.Name(),
			"uuid":            d.UUID(),
			"ComponentStream": compStreams,
		})
	}

	return p.marshal(map[string]any{
		"MTConnectStreams": map[string]any{
			"Header":  p.header(h, true),
			"Streams": map[string]any{"DeviceStream": streams},
		},
	})
}

func (p *JSONPrinter) jsonComponentStream(c *device.Component, observations []*observation.Observation) map[string]any {
	out := map[string]any{
		"component":   c.Type,
		"componentId": c.ID,
	}
	if c.Name != "" {
		out["name"] = c.Name
	}

	buckets := map[device.Category]string{
		device.CategorySample:    "Samples",
		device.CategoryEvent:     "Events",
		device.CategoryCondition: "Condition",
	}
	for category, key := range buckets {
		var list []*observation.Observation
		for _, o := range observations {
			if o.DataItem.Category == category {
				list = append(list, o)
			}
		}
		if len(list) == 0 {
			continue
		}
		if p.version == 1 {
			arr := make([]any, 0, len(list))
			for _, o := range list {
				arr = append(arr, map[string]any{p.observationName(o): p.jsonObservation(o)})
			}
			out[key] = arr
		} else {
			grouped := make(map[string][]any)
			for _, o := range list {
				name := p.observationName(o)
				grouped[name] = append(grouped[name], p.jsonObservation(o))
			}
			out[key] = grouped
		}
	}
	return out
}

func (p *JSONPrinter) observationName(o *observation.Observation) string {
	if o.DataItem.IsCondition() {
		return conditionElement(o.Level)
	}
	return o.DataItem.ObservationName()
}

func (p *JSONPrinter) jsonObservation(o *observation.Observation) map[string]any {
	di := o.DataItem
	out := map[string]any{
		"dataItemId": di.ID,
		"timestamp":  formatTime(o.Timestamp),
		"sequence":   o.Sequence,
	}
	if di.Name != "" {
		out["name"] = di.Name
	}
	if di.SubType != "" {
		out["subType"] = di.SubType
	}
	if o.ResetTriggered != "" {
		out["resetTriggered"] = o.ResetTriggered
	}
	if o.AssetType != "" {
		out["assetType"] = o.AssetType
	}
	if o.Duration > 0 {
		out["duration"] = o.Duration
	}
	if di.IsCondition() {
		out["type"] = di.Type
		if o.NativeCode != "" {
			out["nativeCode"] = o.NativeCode
		}
		if o.NativeSeverity != "" {
			out["nativeSeverity"] = o.NativeSeverity
		}
		if o.Qualifier != "" {
			out["qualifier"] = o.Qualifier
		}
	}

	switch v := o.Value.(type) {
	case observation.DataSet:
		out["count"] = len(v)
		out["value"] = jsonDataSet(v)
	case observation.TimeSeries:
		out["sampleCount"] = v.Count
		if v.Frequency > 0 {
			out["sampleRate"] = v.Frequency
		}
		out["value"] = v.Values
	default:
		out["value"] = o.Value
	}
	return out
}

// jsonDataSet renders a data set as a key-value object; removed entries
// become nulls and table rows nest.
func jsonDataSet(set observation.DataSet) map[string]any {
	out := make(map[string]any, len(set))
	for _, e := range set {
		switch {
		case e.Removed:
			out[e.Key] = nil
		default:
			if cells, ok := e.Value.(observation.DataSet); ok {
				out[e.Key] = jsonDataSet(cells)
			} else {
				out[e.Key] = e.Value
			}
		}
	}
	return out
}

// PrintAssets implements Printer.
func (p *JSONPrinter) PrintAssets(h Header, assets []*asset.Asset) ([]byte, error) {
	list := make([]any, 0, len(assets))
	for _, a := range assets {
		entry := map[string]any{
			"assetId":    a.AssetID,
			"type":       a.Type,
			"deviceUuid": a.DeviceUUID,
			"timestamp":  formatTime(a.Timestamp),
			"raw":        a.Raw,
		}
		if a.Removed {
			entry["removed"] = true
		}
		list = append(list, entry)
	}

	return p.marshal(map[string]any{
		"MTConnectAssets": map[string]any{
			"Header": p.header(h, false),
			"Assets": list,
		},
	})
}

// PrintError implements Printer.
func (p *JSONPrinter) PrintError(h Header, code, text string) ([]byte, error) {
	return p.marshal(map[string]any{
		"MTConnectError": map[string]any{
			"Header": p.header(h, false),
			"Errors": []any{
				map[string]any{"Error": map[string]any{
					"errorCode": code,
					"value":     text,
				}},
			},
		},
	})
}

// PrintObservation renders a single observation as a standalone JSON
// object, used by pub/sub sinks.
func (p *JSONPrinter) PrintObservation(o *observation.Observation) ([]byte, error) {
	return p.marshal(map[string]any{p.observationName(o): p.jsonObservation(o)})
}
