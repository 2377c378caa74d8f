package printer

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

func printerDevice() *device.Device {
	d := device.New("dev", "LinuxCNC", "000")
	device.Verify(d, device.MustParseSchemaVersion("2.0"))

	ctrl := d.AddComponent(nil, &device.Component{ID: "cont", Name: "Controller", Type: "Controller"})
	line := device.NewDataItem("cn2", "LINE", device.CategoryEvent)
	line.Name = "line"
	ctrl.AddDataItem(line)

	cond := device.NewDataItem("clogic", "LOGIC_PROGRAM", device.CategoryCondition)
	ctrl.AddDataItem(cond)

	return d
}

func testHeader() Header {
	return Header{
		CreationTime:  time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC),
		Sender:        "testhost",
		InstanceID:    1618888888,
		Version:       "2.0.0.1",
		BufferSize:    131072,
		AssetBuffer:   1024,
		AssetCount:    1,
		FirstSequence: 1,
		LastSequence:  10,
		NextSequence:  11,
	}
}

func TestXMLPrintProbe(t *testing.T) {
	d := printerDevice()
	p := NewXMLPrinter(true)
	p.SetSchemaVersion("1.7")

	out, err := p.PrintProbe(testHeader(), []*device.Device{d})
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `xmlns="urn:mtconnect.org:MTConnectDevices:1.7"`)
	assert.Contains(t, doc, `<Device id="dev" name="LinuxCNC" uuid="000">`)
	assert.Contains(t, doc, `<DataItem id="cn2" name="line" type="LINE" category="EVENT"/>`)
	assert.Contains(t, doc, `instanceId="1618888888"`)

	// The document must round-trip through the descriptor parser.
	parsed, version, err := device.ParseDescriptor(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "1.7", version)
	require.Len(t, parsed, 1)
	assert.Equal(t, "000", parsed[0].UUID())
	require.NotNil(t, parsed[0].DataItemByName("line"))
}

func TestXMLPrintSample(t *testing.T) {
	d := printerDevice()
	p := NewXMLPrinter(true)

	line := d.DataItemByName("line")
	obs := observation.New(line, time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC), "204")
	obs.Sequence = 7

	cond := observation.NewUnavailable(d.DataItemByID("clogic"), time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC))
	cond.Sequence = 8

	out, err := p.PrintSample(testHeader(), []*observation.Observation{obs, cond})
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `<DeviceStream name="LinuxCNC" uuid="000">`)
	assert.Contains(t, doc, `sequence="7"`)
	assert.Contains(t, doc, `>204</Line>`)
	assert.Contains(t, doc, `<Unavailable`)
	assert.Contains(t, doc, `nextSequence="11"`)

	// Well-formedness check.
	var anyDoc struct{}
	assert.NoError(t, xml.Unmarshal(out, &anyDoc))
}

func TestXMLPrintDataSetObservation(t *testing.T) {
	d := printerDevice()
	vars := device.NewDataItem("cn5", "VARIABLE", device.CategoryEvent)
	vars.Name = "vars"
	vars.Representation = device.RepresentationDataSet
	d.Root().AddDataItem(vars)

	obs := observation.New(vars, time.Now().UTC(), observation.DataSet{
		{Key: "a", Value: int64(1)},
		{Key: "b", Removed: true},
	})

	p := NewXMLPrinter(false)
	out, err := p.PrintSample(testHeader(), []*observation.Observation{obs})
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, `<VariableDataSet`)
	assert.Contains(t, doc, `<Entry key="a">1</Entry>`)
	assert.Contains(t, doc, `<Entry key="b" removed="true"/>`)
}

func TestXMLPrintAssetsEmbedsRaw(t *testing.T) {
	p := NewXMLPrinter(false)
	a := &asset.Asset{
		AssetID:   "0001",
		Type:      "Part",
		Timestamp: time.Now().UTC(),
		Raw:       `<Part assetId="0001">TEST 1</Part>`,
	}

	out, err := p.PrintAssets(testHeader(), []*asset.Asset{a})
	require.NoError(t, err)
	assert.Contains(t, string(out), `<Part assetId="0001">TEST 1</Part>`)
}

func TestXMLPrintError(t *testing.T) {
	p := NewXMLPrinter(false)
	out, err := p.PrintError(testHeader(), "OUT_OF_RANGE", "from out of range")
	require.NoError(t, err)
	doc := string(out)
	assert.Contains(t, doc, `<Error errorCode="OUT_OF_RANGE">from out of range</Error>`)
}

func TestJSONPrintProbeVersions(t *testing.T) {
	d := printerDevice()

	for _, version := range []int{1, 2} {
		p := NewJSONPrinter(version, false)
		out, err := p.PrintProbe(testHeader(), []*device.Device{d})
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		root, ok := doc["MTConnectDevices"].(map[string]any)
		require.True(t, ok, "version %d", version)
		require.Contains(t, root, "Header")
		require.Contains(t, root, "Devices")
	}
}

func TestJSONPrintObservation(t *testing.T) {
	d := printerDevice()
	line := d.DataItemByName("line")
	obs := observation.New(line, time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC), "204")
	obs.Sequence = 3

	p := NewJSONPrinter(2, false)
	out, err := p.PrintObservation(obs)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	line2, ok := doc["Line"]
	require.True(t, ok, "document: %s", out)
	assert.Equal(t, "204", line2["value"])
	assert.Equal(t, float64(3), line2["sequence"])
}
