package device

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// devicesNamespacePrefix is the urn prefix carrying the schema version in a
// descriptor document's default namespace.
const devicesNamespacePrefix = "urn:mtconnect.org:MTConnectDevices:"

// ParseDescriptorFile parses the device descriptor XML file at path.
// It returns the declared devices in document order and the schema version
// found in the document's namespace, or "" when the document does not
// declare one.
func ParseDescriptorFile(path string) ([]*Device, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening descriptor: %w", err)
	}
	defer f.Close()

	devices, version, err := ParseDescriptor(f)
	if err != nil {
		return nil, "", fmt.Errorf("parsing descriptor %s: %w", path, err)
	}
	return devices, version, nil
}

// ParseDescriptor parses an MTConnectDevices document from r.
func ParseDescriptor(r io.Reader) ([]*Device, string, error) {
	dec := xml.NewDecoder(r)

	var devices []*Device
	var version string
	rootSeen := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "MTConnectDevices":
			rootSeen = true
			version = namespaceVersion(start)
		case "Header":
			if err := dec.Skip(); err != nil {
				return nil, "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
			}
		case "Devices":
			// children parsed by the main loop
		case "Device", "Agent":
			d, err := parseDevice(dec, start)
			if err != nil {
				return nil, "", err
			}
			devices = append(devices, d)
		default:
			if rootSeen {
				if err := dec.Skip(); err != nil {
					return nil, "", fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
				}
			}
		}
	}

	if !rootSeen {
		return nil, "", fmt.Errorf("%w: missing MTConnectDevices root", ErrInvalidDescriptor)
	}
	return devices, version, nil
}

// namespaceVersion extracts the schema version from the default namespace
// declaration of the root element.
func namespaceVersion(start xml.StartElement) string {
	for _, a := range start.Attr {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			if strings.HasPrefix(a.Value, devicesNamespacePrefix) {
				return strings.TrimPrefix(a.Value, devicesNamespacePrefix)
			}
		}
	}
	return ""
}

// parseDevice parses a Device or Agent element and its component tree.
func parseDevice(dec *xml.Decoder, start xml.StartElement) (*Device, error) {
	id := attr(start, "id")
	name := attr(start, "name")
	uuid := attr(start, "uuid")

	d := New(id, name, uuid)
	d.IsAgent = start.Name.Local == "Agent"
	d.MTConnectVersion = attr(start, "mtconnectVersion")
	d.Root().NativeName = attr(start, "nativeName")

	if err := parseComponentBody(dec, start, d, d.Root()); err != nil {
		return nil, err
	}
	return d, nil
}

// parseComponentBody consumes the children of a component element until its
// end tag, populating the component and recursing into child components.
func parseComponentBody(dec *xml.Decoder, start xml.StartElement, d *Device, c *Component) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Description":
				desc, err := parseDescription(dec, t)
				if err != nil {
					return err
				}
				c.Description = desc
			case "DataItems":
				if err := parseDataItems(dec, c); err != nil {
					return err
				}
			case "Compositions":
				if err := parseCompositions(dec, c); err != nil {
					return err
				}
			case "Components":
				if err := parseComponents(dec, d, c); err != nil {
					return err
				}
			default:
				// Configuration, References, and extension elements are not
				// part of the runtime model.
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return nil
			}
		}
	}
}

// parseComponents consumes a Components container; every child element is a
// component whose type is the element name.
func parseComponents(dec *xml.Decoder, d *Device, parent *Component) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child := &Component{
				ID:         attr(t, "id"),
				Name:       attr(t, "name"),
				NativeName: attr(t, "nativeName"),
				Type:       t.Name.Local,
			}
			d.AddComponent(parent, child)
			if err := parseComponentBody(dec, t, d, child); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == "Components" {
				return nil
			}
		}
	}
}

// parseDataItems consumes a DataItems container.
func parseDataItems(dec *xml.Decoder, c *Component) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "DataItem" {
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
				}
				continue
			}
			di, err := parseDataItem(dec, t)
			if err != nil {
				return err
			}
			c.AddDataItem(di)
		case xml.EndElement:
			if t.Name.Local == "DataItems" {
				return nil
			}
		}
	}
}

// parseDataItem parses one DataItem element, including a single-valued
// Constraints block as the constant value.
func parseDataItem(dec *xml.Decoder, start xml.StartElement) (*DataItem, error) {
	di := &DataItem{
		ID:             attr(start, "id"),
		Name:           attr(start, "name"),
		Type:           attr(start, "type"),
		SubType:        attr(start, "subType"),
		Category:       Category(attr(start, "category")),
		Representation: RepresentationValue,
		Units:          attr(start, "units"),
		NativeUnits:    attr(start, "nativeUnits"),
		Statistic:      attr(start, "statistic"),
	}
	if rep := attr(start, "representation"); rep != "" {
		di.Representation = Representation(strings.ToUpper(rep))
	}
	if attr(start, "discrete") == "true" {
		di.MakeDiscrete()
	}

	var constraintValues []string
	depth := 0
	inValue := false
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			inValue = t.Name.Local == "Value"
			text.Reset()
		case xml.CharData:
			if inValue {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "DataItem" && depth == 0 {
				// A single constrained value acts as the constant value.
				if len(constraintValues) == 1 {
					v := constraintValues[0]
					di.ConstantValue = &v
				}
				return di, nil
			}
			if inValue && t.Name.Local == "Value" {
				constraintValues = append(constraintValues, strings.TrimSpace(text.String()))
				inValue = false
			}
			depth--
		}
	}
}

// parseCompositions consumes a Compositions container.
func parseCompositions(dec *xml.Decoder, c *Component) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Composition" {
				c.AddComposition(&Composition{
					ID:   attr(t, "id"),
					Name: attr(t, "name"),
					Type: attr(t, "type"),
				})
			}
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
			}
		case xml.EndElement:
			if t.Name.Local == "Compositions" {
				return nil
			}
		}
	}
}

// parseDescription reads a Description element's attributes and text.
func parseDescription(dec *xml.Decoder, start xml.StartElement) (*Description, error) {
	desc := &Description{
		Manufacturer: attr(start, "manufacturer"),
		Model:        attr(start, "model"),
		SerialNumber: attr(start, "serialNumber"),
		Station:      attr(start, "station"),
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == "Description" {
				desc.Text = strings.TrimSpace(text.String())
				return desc, nil
			}
		}
	}
}

// attr returns the value of the named attribute, or "".
func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
