package pipeline

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// StreamError is one structured error carried by an upstream response
// document.
type StreamError struct {
	Code string
	Text string
}

// Feedback carries the transform's state back to the source: the upstream
// agent's instance id, the next sequence to request, asset change events
// observed in the stream, and any structured errors from the last document.
type Feedback struct {
	InstanceID  uint64
	Next        uint64
	AssetEvents []*observation.Observation
	Errors      []StreamError
}

// Reset clears the feedback after an instance-id change.
func (f *Feedback) Reset() {
	f.InstanceID = 0
	f.Next = 0
	f.AssetEvents = nil
	f.Errors = nil
}

// responseDocument is a parsed upstream document.
type responseDocument struct {
	instanceID   uint64
	next         uint64
	entities     []Entity
	assetEvents  []*observation.Observation
	streamErrors []StreamError
}

// MTConnectXmlTransform parses streamed probe, current, and sample documents
// from an upstream agent and re-emits their contents as pipeline entities.
//
// On the first document it latches the upstream instance id. A later
// document with a different instance id clears the feedback and fails with
// ErrInstanceIDChanged; the source must re-probe and resume from sequence 0.
// A document carrying stream errors fails with ErrRestartStream.
type MTConnectXmlTransform struct {
	contract      Contract
	feedback      *Feedback
	defaultDevice string
	logger        Logger
}

// NewMTConnectXmlTransform creates the transform. The feedback record is
// shared with the owning source.
func NewMTConnectXmlTransform(contract Contract, feedback *Feedback, defaultDevice string, logger Logger) *MTConnectXmlTransform {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MTConnectXmlTransform{
		contract:      contract,
		feedback:      feedback,
		defaultDevice: defaultDevice,
		logger:        logger,
	}
}

// Name implements Transform.
func (*MTConnectXmlTransform) Name() string { return "MTConnectXmlTransform" }

// Guard implements Transform: raw records that look like XML documents.
func (*MTConnectXmlTransform) Guard(e Entity) bool {
	d, ok := e.(*Data)
	return ok && strings.HasPrefix(strings.TrimSpace(d.Value), "<")
}

// Apply implements Transform.
func (x *MTConnectXmlTransform) Apply(e Entity, next NextFunc) (Entity, error) {
	d := e.(*Data)

	rd, err := x.parse(d)
	if err != nil {
		return nil, err
	}

	if x.feedback.InstanceID != 0 && rd.instanceID != 0 && x.feedback.InstanceID != rd.instanceID {
		old := x.feedback.InstanceID
		x.feedback.Reset()
		x.logger.Warn("upstream instance id changed", "from", old, "to", rd.instanceID)
		return nil, fmt.Errorf("%w: %d -> %d", ErrInstanceIDChanged, old, rd.instanceID)
	}

	if rd.instanceID != 0 {
		x.feedback.InstanceID = rd.instanceID
	}
	if rd.next != 0 {
		x.feedback.Next = rd.next
	}
	x.feedback.AssetEvents = rd.assetEvents
	x.feedback.Errors = rd.streamErrors

	if len(rd.streamErrors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrRestartStream, rd.streamErrors[0].Code)
	}

	for _, entity := range rd.entities {
		if err := next(entity); err != nil {
			return nil, err
		}
	}

	return &Entities{List: rd.entities}, nil
}

// parse dispatches on the document's root element.
func (x *MTConnectXmlTransform) parse(d *Data) (*responseDocument, error) {
	rd := &responseDocument{}
	dec := xml.NewDecoder(strings.NewReader(d.Value))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rd, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parsing response document: %v", ErrRetryRequest, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "MTConnectStreams":
			return rd, x.parseStreams(dec, rd, d)
		case "MTConnectDevices":
			return rd, x.parseDevices(d, rd)
		case "MTConnectAssets":
			return rd, x.parseAssets(dec, rd, d)
		case "MTConnectError":
			return rd, x.parseErrors(dec, rd)
		default:
			return nil, fmt.Errorf("%w: unexpected document %s", ErrRetryRequest, start.Name.Local)
		}
	}
}

// parseStreams walks an MTConnectStreams document, emitting one observation
// per sample, event, or condition element.
func (x *MTConnectXmlTransform) parseStreams(dec *xml.Decoder, rd *responseDocument, d *Data) error {
	obs := &Observations{}
	var inCondition bool

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: parsing streams: %v", ErrRetryRequest, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Header":
				x.parseHeader(t, rd)
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%w: %v", ErrRetryRequest, err)
				}
			case "Streams", "DeviceStream", "ComponentStream", "Samples", "Events":
				inCondition = false
			case "Condition":
				inCondition = true
			default:
				o, err := x.parseObservation(dec, t, inCondition)
				if err != nil {
					return err
				}
				if o != nil {
					obs.List = append(obs.List, o)
					if o.DataItem != nil && o.DataItem.Type == "ASSET_CHANGED" {
						rd.assetEvents = append(rd.assetEvents, o)
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "Condition" {
				inCondition = false
			}
		}
	}

	if len(obs.List) > 0 {
		rd.entities = append(rd.entities, obs)
	}
	return nil
}

// parseHeader reads instanceId and nextSequence.
func (x *MTConnectXmlTransform) parseHeader(start xml.StartElement, rd *responseDocument) {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "instanceId":
			rd.instanceID, _ = strconv.ParseUint(a.Value, 10, 64)
		case "nextSequence":
			rd.next, _ = strconv.ParseUint(a.Value, 10, 64)
		}
	}
}

// parseObservation reads one observation element. Inside a Condition block
// the element name is the level; otherwise it is the observation type.
func (x *MTConnectXmlTransform) parseObservation(dec *xml.Decoder, start xml.StartElement, condition bool) (*observation.Observation, error) {
	var (
		dataItemID, ts, resetTriggered, assetType string
		nativeCode, nativeSeverity, qualifier     string
		sampleCount, sampleRate                   string
	)
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "dataItemId":
			dataItemID = a.Value
		case "timestamp":
			ts = a.Value
		case "resetTriggered":
			resetTriggered = a.Value
		case "assetType":
			assetType = a.Value
		case "nativeCode":
			nativeCode = a.Value
		case "nativeSeverity":
			nativeSeverity = a.Value
		case "qualifier":
			qualifier = a.Value
		case "sampleCount":
			sampleCount = a.Value
		case "sampleRate":
			sampleRate = a.Value
		}
	}

	value, entries, err := parseObservationBody(dec, start)
	if err != nil {
		return nil, err
	}

	di := x.contract.DataItemByID(dataItemID)
	if di == nil {
		x.logger.Warn("upstream observation for unknown data item", "dataItemId", dataItemID)
		return nil, nil
	}

	timestamp := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		timestamp = parsed
	}

	o := observation.New(di, timestamp, nil)
	o.ResetTriggered = resetTriggered
	o.AssetType = assetType

	switch {
	case condition:
		o.Level = normalizeLevel(start.Name.Local)
		o.NativeCode = nativeCode
		o.NativeSeverity = nativeSeverity
		o.Qualifier = qualifier
		o.Value = value
	case entries != nil:
		o.Value = entries
	case di.IsTimeSeries() && value != observation.Unavailable:
		series := observation.TimeSeries{}
		series.Count, _ = strconv.Atoi(sampleCount)
		series.Frequency, _ = strconv.ParseFloat(sampleRate, 64)
		for _, f := range strings.Fields(value) {
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				series.Values = append(series.Values, v)
			}
		}
		o.Value = series
	case di.IsSample() && value != observation.Unavailable:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			o.Value = f
		} else {
			o.Value = value
		}
	default:
		o.Value = value
	}

	return o, nil
}

// parseObservationBody reads the element's text value and any Entry/Cell
// children, returning the text and the entries (nil when the element has
// none).
func parseObservationBody(dec *xml.Decoder, start xml.StartElement) (string, observation.DataSet, error) {
	var text strings.Builder
	var set observation.DataSet

	var entryKey string
	var entryRemoved bool
	var entryText strings.Builder
	var cells observation.DataSet
	var cellKey string
	var cellText strings.Builder
	depth := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrRetryRequest, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Entry":
				depth = 1
				entryKey = attrValue(t, "key")
				entryRemoved = attrValue(t, "removed") == "true"
				entryText.Reset()
				cells = nil
			case "Cell":
				depth = 2
				cellKey = attrValue(t, "key")
				cellText.Reset()
			default:
				if err := dec.Skip(); err != nil {
					return "", nil, fmt.Errorf("%w: %v", ErrRetryRequest, err)
				}
			}
		case xml.CharData:
			switch depth {
			case 2:
				cellText.Write(t)
			case 1:
				entryText.Write(t)
			default:
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "Cell":
				cells = append(cells, observation.DataSetEntry{
					Key:   cellKey,
					Value: typeSetValue(strings.TrimSpace(cellText.String())),
				})
				depth = 1
			case "Entry":
				entry := observation.DataSetEntry{Key: entryKey, Removed: entryRemoved}
				if cells != nil {
					entry.Value = cells
				} else if !entryRemoved {
					entry.Value = typeSetValue(strings.TrimSpace(entryText.String()))
				}
				set = append(set, entry)
				depth = 0
			case start.Name.Local:
				return strings.TrimSpace(text.String()), set, nil
			}
		}
	}
}

// parseDevices re-parses the document as a probe and emits each declared
// device.
func (x *MTConnectXmlTransform) parseDevices(d *Data, rd *responseDocument) error {
	devices, _, err := device.ParseDescriptor(strings.NewReader(d.Value))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetryRequest, err)
	}
	for _, dev := range devices {
		if dev.IsAgent {
			continue
		}
		rd.entities = append(rd.entities, &DeviceEntity{Device: dev})
	}
	return nil
}

// parseAssets walks an MTConnectAssets document, emitting each asset body.
func (x *MTConnectXmlTransform) parseAssets(dec *xml.Decoder, rd *responseDocument, d *Data) error {
	factories := asset.DefaultFactories()
	inAssets := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: parsing assets: %v", ErrRetryRequest, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Header":
			x.parseHeader(start, rd)
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("%w: %v", ErrRetryRequest, err)
			}
		case "Assets":
			inAssets = true
		default:
			if !inAssets {
				continue
			}
			raw, err := rawElement(dec, start)
			if err != nil {
				return err
			}
			a, err := factories.Parse(raw)
			if err != nil || a.AssetID == "" {
				x.logger.Warn("cannot parse upstream asset", "error", err)
				continue
			}
			if a.DeviceUUID == "" {
				a.DeviceUUID = d.Device
			}
			rd.entities = append(rd.entities, &AssetEntity{Asset: a})
		}
	}
}

// parseErrors collects MTConnectError entries into the feedback.
func (x *MTConnectXmlTransform) parseErrors(dec *xml.Decoder, rd *responseDocument) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: parsing errors: %v", ErrRetryRequest, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "Error" {
			continue
		}

		se := StreamError{Code: attrValue(start, "errorCode")}
		var text strings.Builder
		for {
			t, err := dec.Token()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRetryRequest, err)
			}
			if cd, ok := t.(xml.CharData); ok {
				text.Write(cd)
			}
			if end, ok := t.(xml.EndElement); ok && end.Name.Local == "Error" {
				break
			}
		}
		se.Text = strings.TrimSpace(text.String())
		rd.streamErrors = append(rd.streamErrors, se)
	}
}

// rawElement re-serializes one element subtree to its XML text.
func rawElement(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var sb strings.Builder
	enc := xml.NewEncoder(&sb)

	if err := enc.EncodeToken(start.Copy()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRetryRequest, err)
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRetryRequest, err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrRetryRequest, err)
		}
	}
	if err := enc.Flush(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRetryRequest, err)
	}
	return sb.String(), nil
}

// attrValue returns the named attribute of an element, or "".
func attrValue(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
