package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// mockContract records everything delivered to it.
type mockContract struct {
	dev          *device.Device
	observations []*observation.Observation
	assets       []*asset.Asset
	assetCmds    []*AssetCommand
	commands     []string
	statuses     []string
	devices      []*device.Device
}

func (m *mockContract) FindDataItem(deviceKey, key string) *device.DataItem {
	if m.dev == nil {
		return nil
	}
	return m.dev.DataItemByName(key)
}

func (m *mockContract) DataItemByID(id string) *device.DataItem {
	if m.dev == nil {
		return nil
	}
	return m.dev.DataItemByID(id)
}

func (m *mockContract) ReceiveObservation(obs *observation.Observation) {
	m.observations = append(m.observations, obs)
}

func (m *mockContract) ReceiveAsset(a *asset.Asset) { m.assets = append(m.assets, a) }

func (m *mockContract) ReceiveAssetCommand(cmd *AssetCommand) {
	m.assetCmds = append(m.assetCmds, cmd)
}

func (m *mockContract) ReceiveCommand(deviceKey, name, value, source string) {
	m.commands = append(m.commands, name+"="+value)
}

func (m *mockContract) ReceiveConnectionStatus(status, source string, devices []string, autoAvailable bool) {
	m.statuses = append(m.statuses, status)
}

func (m *mockContract) ReceiveDevice(d *device.Device) { m.devices = append(m.devices, d) }

// testDevice builds a device with the data items the tests feed.
func testShdrDevice() *device.Device {
	d := device.New("dev", "LinuxCNC", "000")

	line := device.NewDataItem("cn2", "LINE", device.CategoryEvent)
	line.Name = "line"
	d.AddDataItem(line)

	pos := device.NewDataItem("xpos", "POSITION", device.CategorySample)
	pos.Name = "Xact"
	d.AddDataItem(pos)

	vars := device.NewDataItem("cn5", "VARIABLE", device.CategoryEvent)
	vars.Name = "vars"
	vars.Representation = device.RepresentationDataSet
	d.AddDataItem(vars)

	wpo := device.NewDataItem("cn6", "WORK_OFFSET", device.CategoryEvent)
	wpo.Name = "wpo"
	wpo.Representation = device.RepresentationTable
	d.AddDataItem(wpo)

	ts := device.NewDataItem("xts", "POSITION", device.CategorySample)
	ts.Name = "Xts"
	ts.Representation = device.RepresentationTimeSeries
	d.AddDataItem(ts)

	cond := device.NewDataItem("clogic", "LOGIC_PROGRAM", device.CategoryCondition)
	cond.Name = "lp"
	d.AddDataItem(cond)

	msg := device.NewDataItem("cmsg", "MESSAGE", device.CategoryEvent)
	msg.Name = "msg"
	d.AddDataItem(msg)

	return d
}

func shdrPipeline(c *mockContract) *Pipeline {
	return New(
		NewCommandParser(nil),
		ShdrTokenizer{},
		&TimestampExtractor{Now: func() time.Time {
			return time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
		}},
		NewAssetMapper(asset.DefaultFactories(), nil),
		NewShdrMapper(c, nil),
		NewDeliveryTerminal(c),
	)
}

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"a|b|c", []string{"a", "b", "c"}},
		{"ts|vars|a=1 b=2", []string{"ts", "vars", "a=1 b=2"}},
		{"k|v={x=1|y=2}", []string{"k", "v={x=1|y=2}"}},
		{`k|'a|b'|c`, []string{`k`, `'a|b'`, "c"}},
		{"one", []string{"one"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitTokens(tt.line), "line %q", tt.line)
	}
}

func TestTimestampExtraction(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Source: "adapter", Value: "2021-02-01T12:00:00Z|line|204"}))
	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, "204", obs.Value)
	assert.Equal(t, time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC), obs.Timestamp)
}

func TestTimestampWithFractionAndDuration(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "2021-02-01T12:00:00.123Z@1.5|line|205"}))
	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, 1.5, obs.Duration)
	assert.Equal(t, 123000000, obs.Timestamp.Nanosecond())
}

func TestUnparseableTimestampUsesAgentClock(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	// The leading field is always consumed, parseable or not.
	require.NoError(t, p.Run(&Data{Value: "TIME|line|206"}))
	require.Len(t, c.observations, 1)
	assert.Equal(t, "206", c.observations[0].Value)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), c.observations[0].Timestamp)
}

func TestSampleConversion(t *testing.T) {
	dev := testShdrDevice()
	dev.DataItemByName("Xact").SetConversion(device.UnitConversion{Factor: 2, Offset: 1})
	c := &mockContract{dev: dev}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|Xact|10"}))
	require.Len(t, c.observations, 1)
	assert.Equal(t, 21.0, c.observations[0].Value)
}

func TestMultipleObservationsPerLine(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "2021-02-01T12:00:00Z|line|207|Xact|1.25"}))
	require.Len(t, c.observations, 2)
	assert.Equal(t, "207", c.observations[0].Value)
	assert.Equal(t, 1.25, c.observations[1].Value)
}

func TestUnknownDataItemSkipsItsValue(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "2021-02-01T12:00:00Z|nope|1|line|208"}))
	require.Len(t, c.observations, 1)
	assert.Equal(t, "208", c.observations[0].Value)
}

func TestDataSetMapping(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|vars|a=1 b=2 c=3"}))
	require.Len(t, c.observations, 1)

	set, ok := c.observations[0].Value.(observation.DataSet)
	require.True(t, ok)
	assert.True(t, set.Equal(observation.DataSet{
		{Key: "a", Value: int64(1)},
		{Key: "b", Value: int64(2)},
		{Key: "c", Value: int64(3)},
	}))
}

func TestDataSetResetAndRemoval(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|vars|:MANUAL_RESET a=4 b="}))
	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, observation.ResetManual, obs.ResetTriggered)

	set := obs.Value.(observation.DataSet)
	a, ok := set.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(4), a.Value)
	b, ok := set.Get("b")
	require.True(t, ok)
	assert.True(t, b.Removed)
}

func TestTableMapping(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	line := "2021-02-01T12:00:00Z|wpo|G53.1={X=1.0 Y=2.0 Z=3.0} G53.2={X=4.0 Y=5.0 Z=6.0} G53.3={X=7.0 Y=8.0 Z=9 U=10.0}"
	require.NoError(t, p.Run(&Data{Value: line}))
	require.Len(t, c.observations, 1)

	table, ok := c.observations[0].Value.(observation.DataSet)
	require.True(t, ok)
	require.Len(t, table, 3)

	row1, ok := table.Get("G53.1")
	require.True(t, ok)
	cells, ok := row1.Value.(observation.DataSet)
	require.True(t, ok)
	x, _ := cells.Get("X")
	assert.Equal(t, 1.0, x.Value)

	row3, _ := table.Get("G53.3")
	cells3 := row3.Value.(observation.DataSet)
	require.Len(t, cells3, 4)
	z, _ := cells3.Get("Z")
	assert.Equal(t, int64(9), z.Value)
	u, _ := cells3.Get("U")
	assert.Equal(t, 10.0, u.Value)
}

func TestTimeSeriesMapping(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|Xts|4|100|1.1 2.2 3.3 4.4"}))
	require.Len(t, c.observations, 1)

	series, ok := c.observations[0].Value.(observation.TimeSeries)
	require.True(t, ok)
	assert.Equal(t, 4, series.Count)
	assert.Equal(t, 100.0, series.Frequency)
	assert.Equal(t, []float64{1.1, 2.2, 3.3, 4.4}, series.Values)
}

func TestConditionMapping(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|lp|fault|CODE1|2|HIGH|a fault"}))
	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, observation.LevelFault, obs.Level)
	assert.Equal(t, "CODE1", obs.NativeCode)
	assert.Equal(t, "HIGH", obs.Qualifier)
	assert.Equal(t, "a fault", obs.Value)
}

func TestMessageMapping(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|msg|M01|tool change required"}))
	require.Len(t, c.observations, 1)
	obs := c.observations[0]
	assert.Equal(t, "M01", obs.NativeCode)
	assert.Equal(t, "tool change required", obs.Value)
}

func TestUnavailableValue(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|line|UNAVAILABLE"}))
	require.Len(t, c.observations, 1)
	assert.True(t, c.observations[0].IsUnavailable())
}

func TestAssetAdmission(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	line := "2021-02-01T12:00:00Z|@ASSET@|@1|Part|<Part assetId='1'>TEST 1</Part>"
	require.NoError(t, p.Run(&Data{Device: "000", Value: line}))
	require.Len(t, c.assets, 1)

	a := c.assets[0]
	assert.Equal(t, "@1", a.AssetID, "canonicalization is the kernel's job")
	assert.Equal(t, "Part", a.Type)
	assert.Equal(t, "000", a.DeviceUUID)
}

func TestAssetRemoveCommands(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "TIME|@REMOVE_ASSET@|0001"}))
	require.NoError(t, p.Run(&Data{Value: "TIME|@REMOVE_ALL_ASSETS@|Part"}))

	require.Len(t, c.assetCmds, 2)
	assert.Equal(t, AssetCommandRemove, c.assetCmds[0].Command)
	assert.Equal(t, "0001", c.assetCmds[0].AssetID)
	assert.Equal(t, AssetCommandRemoveAll, c.assetCmds[1].Command)
	assert.Equal(t, "Part", c.assetCmds[1].Type)
}

func TestCommandParsing(t *testing.T) {
	c := &mockContract{dev: testShdrDevice()}
	p := shdrPipeline(c)

	require.NoError(t, p.Run(&Data{Value: "* manufacturer: Okuma"}))
	require.Len(t, c.commands, 1)
	assert.Equal(t, "manufacturer=Okuma", c.commands[0])
}
