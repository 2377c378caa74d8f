package asset

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Asset is a mutable domain object associated with a device: a tool, a
// material, a document. Assets are identified by assetId and owned by the
// Store once admitted.
type Asset struct {
	AssetID    string
	Type       string
	DeviceUUID string
	Timestamp  time.Time

	// Removed marks the asset as tombstoned. The store keeps tombstoned
	// entries until normal eviction so sequence-based streams can still
	// resolve them.
	Removed bool

	// Raw is the original XML payload, reprinted verbatim by the printers.
	Raw string

	// Payload is the typed payload produced by the registered factory for
	// this asset type, or nil for unknown types.
	Payload any
}

// Factory parses the raw XML of one asset type into its typed payload.
type Factory func(raw string) (any, error)

// FactorySet is the registry of asset-type factories. It is process-wide
// state created at agent construction, not a hidden package singleton.
type FactorySet struct {
	factories map[string]Factory
}

// NewFactorySet creates an empty factory set.
func NewFactorySet() *FactorySet {
	return &FactorySet{factories: make(map[string]Factory)}
}

// Register installs a factory for an asset type, replacing any previous one.
func (fs *FactorySet) Register(assetType string, f Factory) {
	fs.factories[assetType] = f
}

// DefaultFactories returns a factory set with the standard asset types
// registered: cutting tools, files, raw material, and QIF documents.
func DefaultFactories() *FactorySet {
	fs := NewFactorySet()
	fs.Register("CuttingTool", func(raw string) (any, error) {
		var p CuttingTool
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	fs.Register("CuttingToolArchetype", func(raw string) (any, error) {
		var p CuttingToolArchetype
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	fs.Register("File", func(raw string) (any, error) {
		var p FileAsset
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	fs.Register("FileArchetype", func(raw string) (any, error) {
		var p FileArchetype
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	fs.Register("RawMaterial", func(raw string) (any, error) {
		var p RawMaterial
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	fs.Register("QIFDocumentWrapper", func(raw string) (any, error) {
		var p QIFDocumentWrapper
		return &p, xml.Unmarshal([]byte(raw), &p)
	})
	return fs
}

// Parse builds an Asset from a raw XML payload. The root element name is the
// asset type; assetId, deviceUuid, timestamp, and removed are read from the
// root attributes. A registered factory adds the typed payload.
func (fs *FactorySet) Parse(raw string) (*Asset, error) {
	raw = strings.TrimSpace(raw)
	dec := xml.NewDecoder(strings.NewReader(raw))

	var start *xml.StartElement
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		if s, ok := tok.(xml.StartElement); ok {
			start = &s
			break
		}
	}

	a := &Asset{
		Type: start.Name.Local,
		Raw:  raw,
	}
	for _, at := range start.Attr {
		switch at.Name.Local {
		case "assetId":
			a.AssetID = at.Value
		case "deviceUuid":
			a.DeviceUUID = at.Value
		case "removed":
			a.Removed = at.Value == "true"
		case "timestamp":
			if ts, err := time.Parse(time.RFC3339, at.Value); err == nil {
				a.Timestamp = ts
			}
		}
	}

	if f, ok := fs.factories[a.Type]; ok {
		payload, err := f(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s payload: %w", a.Type, err)
		}
		a.Payload = payload
	}

	return a, nil
}

// CuttingTool is the payload of a CuttingTool asset.
type CuttingTool struct {
	SerialNumber string `xml:"serialNumber,attr"`
	ToolID       string `xml:"toolId,attr"`
	Manufacturers string `xml:"manufacturers,attr"`
}

// CuttingToolArchetype is the payload of a CuttingToolArchetype asset.
type CuttingToolArchetype struct {
	SerialNumber string `xml:"serialNumber,attr"`
	ToolID       string `xml:"toolId,attr"`
}

// FileAsset is the payload of a File asset.
type FileAsset struct {
	Name      string `xml:"name,attr"`
	MediaType string `xml:"mediaType,attr"`
	Size      int64  `xml:"size,attr"`
}

// FileArchetype is the payload of a FileArchetype asset.
type FileArchetype struct {
	Name      string `xml:"name,attr"`
	MediaType string `xml:"mediaType,attr"`
}

// RawMaterial is the payload of a RawMaterial asset.
type RawMaterial struct {
	Name          string `xml:"name,attr"`
	ContainerType string `xml:"containerType,attr"`
	Form          string `xml:"Form"`
}

// QIFDocumentWrapper is the payload of a QIFDocumentWrapper asset.
type QIFDocumentWrapper struct {
	QIFDocumentType string `xml:"qifDocumentType,attr"`
}
