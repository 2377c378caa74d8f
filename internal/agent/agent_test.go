package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

const testDescriptorPath = "testdata/test_config.xml"

func testClock() time.Time {
	return time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
}

// newTestAgent builds, initializes, and starts an agent over the test
// descriptor.
func newTestAgent(t *testing.T) *Agent {
	t.Helper()

	a := New(Options{
		DeviceXMLPath: testDescriptorPath,
		Address:       "localhost",
		Port:          5000,
		Version:       "test",
	}, nil)
	a.SetClock(testClock)

	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)
	return a
}

// shdrPipeline builds the adapter pipeline over the agent contract.
func shdrPipeline(a *Agent) *pipeline.Pipeline {
	return pipeline.New(
		pipeline.NewCommandParser(nil),
		pipeline.ShdrTokenizer{},
		&pipeline.TimestampExtractor{Now: testClock},
		pipeline.NewAssetMapper(a.Factories(), nil),
		pipeline.NewShdrMapper(a, nil),
		pipeline.NewDeliveryTerminal(a),
	)
}

func feed(t *testing.T, a *Agent, dev, line string) {
	t.Helper()
	p := shdrPipeline(a)
	require.NoError(t, p.Run(&pipeline.Data{Source: "adapter", Device: dev, Value: line}))
}

// S1: load the descriptor, resolve by name, availability starts UNAVAILABLE.
func TestScenarioLoadDescriptor(t *testing.T) {
	a := newTestAgent(t)

	d := a.Registry().ByName("LinuxCNC")
	require.NotNil(t, d)
	assert.Equal(t, "000", d.UUID())

	avail := d.Availability()
	require.NotNil(t, avail)
	assert.Equal(t, "dev_avail", avail.ID)

	latest := a.GetLatest("dev_avail")
	require.NotNil(t, latest)
	assert.True(t, latest.IsUnavailable())
}

// A constrained data item starts at its constant value, not UNAVAILABLE.
func TestConstantValueInitialization(t *testing.T) {
	a := newTestAgent(t)

	latest := a.GetLatest("cn7")
	require.NotNil(t, latest)
	assert.Equal(t, "AUTOMATIC", latest.Value)
}

// S2: a plain SHDR event lands with its adapter timestamp.
func TestScenarioShdrEvent(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "2021-02-01T12:00:00Z|line|204")

	latest := a.GetLatest("cn2")
	require.NotNil(t, latest)
	assert.Equal(t, "204", latest.Value)
	assert.Equal(t, time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC), latest.Timestamp)
}

// S3: asset admission canonicalizes the @-prefixed id, fires ASSET_CHANGED,
// and maintains ASSET_COUNT.
func TestScenarioAssetAdmission(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "2021-02-01T12:00:00Z|@ASSET@|@1|Part|<Part assetId='1'>TEST 1</Part>")

	stored := a.Assets().GetAsset("0001")
	require.NotNil(t, stored, "asset id must canonicalize to 0001")
	assert.Equal(t, "000", stored.DeviceUUID)

	changed := a.GetLatest("dev_asset_chg")
	require.NotNil(t, changed)
	assert.Equal(t, "0001", changed.Value)
	assert.Equal(t, "Part", changed.AssetType)

	count := a.GetLatest("dev_asset_count")
	require.NotNil(t, count)
	set, ok := count.Value.(observation.DataSet)
	require.True(t, ok)
	entry, ok := set.Get("Part")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.Value)
}

// P5: canonicalization is idempotent across repeated admissions.
func TestAssetIdCanonicalizationIdempotent(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "2021-02-01T12:00:00Z|@ASSET@|@1|Part|<Part assetId='1'>TEST 1</Part>")
	feed(t, a, "000", "2021-02-01T12:01:00Z|@ASSET@|@1|Part|<Part assetId='1'>TEST 2</Part>")

	assert.NotNil(t, a.Assets().GetAsset("0001"))
	assert.Equal(t, 1, a.Assets().Count())
}

// S4: data sets merge by default and reset on the modifier.
func TestScenarioDataSetMerge(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "TIME|vars|a=1 b=2 c=3")
	feed(t, a, "000", "TIME|vars|a=4")

	latest := a.GetLatest("cn5")
	require.NotNil(t, latest)
	set, ok := latest.Value.(observation.DataSet)
	require.True(t, ok)
	assert.True(t, set.Equal(observation.DataSet{
		{Key: "a", Value: int64(4)},
		{Key: "b", Value: int64(2)},
		{Key: "c", Value: int64(3)},
	}), "default merge, got %v", set)

	feed(t, a, "000", "TIME|vars|:MANUAL_RESET z=9")
	set = a.GetLatest("cn5").Value.(observation.DataSet)
	assert.True(t, set.Equal(observation.DataSet{{Key: "z", Value: int64(9)}}),
		"reset replaces, got %v", set)
}

// S5: a table lands with all rows and cells.
func TestScenarioTable(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000",
		"2021-02-01T12:00:00Z|wpo|G53.1={X=1.0 Y=2.0 Z=3.0} G53.2={X=4.0 Y=5.0 Z=6.0} G53.3={X=7.0 Y=8.0 Z=9 U=10.0}")

	latest := a.GetLatest("cn6")
	require.NotNil(t, latest)
	table, ok := latest.Value.(observation.DataSet)
	require.True(t, ok)
	require.Len(t, table, 3)

	row, ok := table.Get("G53.2")
	require.True(t, ok)
	cells := row.Value.(observation.DataSet)
	y, _ := cells.Get("Y")
	assert.Equal(t, 5.0, y.Value)
}

// S6: connection events drive connection_status and availability.
func TestScenarioConnectionLifecycle(t *testing.T) {
	a := newTestAgent(t)
	a.AddAdapter("adapter")

	statusID := "_adapter_connection_status"

	a.ReceiveConnectionStatus(pipeline.StatusConnecting, "adapter", []string{"000"}, true)
	require.NotNil(t, a.GetLatest(statusID))
	assert.Equal(t, "LISTENING", a.GetLatest(statusID).Value)

	a.ReceiveConnectionStatus(pipeline.StatusConnected, "adapter", []string{"000"}, true)
	assert.Equal(t, "ESTABLISHED", a.GetLatest(statusID).Value)
	assert.Equal(t, "AVAILABLE", a.GetLatest("dev_avail").Value)

	a.ReceiveConnectionStatus(pipeline.StatusDisconnected, "adapter", []string{"000"}, true)
	assert.Equal(t, "CLOSED", a.GetLatest(statusID).Value)
	assert.True(t, a.GetLatest("dev_avail").IsUnavailable())

	// Constant-value items revert to their constant, not UNAVAILABLE.
	assert.Equal(t, "AUTOMATIC", a.GetLatest("cn7").Value)
}

// Disconnect resets data items fed by the adapter.
func TestDisconnectResetsAdapterItems(t *testing.T) {
	a := newTestAgent(t)
	a.AddAdapter("adapter")

	feed(t, a, "000", "2021-02-01T12:00:00Z|line|204")
	require.Equal(t, "204", a.GetLatest("cn2").Value)

	a.ReceiveConnectionStatus(pipeline.StatusDisconnected, "adapter", []string{"000"}, false)
	assert.True(t, a.GetLatest("cn2").IsUnavailable())
}

// P7: the agent device uuid is deterministic for a fixed endpoint.
func TestAgentDeviceUUIDDeterminism(t *testing.T) {
	build := func() *Agent {
		a := New(Options{
			DeviceXMLPath: testDescriptorPath,
			Address:       "example.com",
			Port:          5123,
		}, nil)
		require.NoError(t, a.Initialize())
		return a
	}

	a1, a2 := build(), build()
	require.NotNil(t, a1.AgentDevice())
	assert.Equal(t, a1.AgentDevice().UUID(), a2.AgentDevice().UUID())
	assert.Contains(t, a1.AgentDevice().ID(), "agent_")
}

// P8: ASSET_REMOVED consistency.
func TestScenarioAssetRemoval(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "2021-02-01T12:00:00Z|@ASSET@|@1|Part|<Part assetId='1'>TEST 1</Part>")
	require.Equal(t, "0001", a.GetLatest("dev_asset_chg").Value)

	require.True(t, a.RemoveAsset(nil, "0001"))

	removed := a.GetLatest("dev_asset_rem")
	require.NotNil(t, removed)
	assert.Equal(t, "0001", removed.Value)

	// ASSET_CHANGED pointed at the removed asset, so it resets.
	assert.True(t, a.GetLatest("dev_asset_chg").IsUnavailable())

	// The emitted ASSET_COUNT delta carries the removed marker, so the
	// merged current view drops the type entirely.
	_, list, _ := a.SampleObservations(1, 100000, nil)
	var lastCount *observation.Observation
	for _, o := range list {
		if o.DataItem != nil && o.DataItem.ID == "dev_asset_count" {
			lastCount = o
		}
	}
	require.NotNil(t, lastCount)
	entry, ok := lastCount.Value.(observation.DataSet).Get("Part")
	require.True(t, ok)
	assert.True(t, entry.Removed)

	merged := a.GetLatest("dev_asset_count").Value.(observation.DataSet)
	_, stillThere := merged.Get("Part")
	assert.False(t, stillThere)
}

// @REMOVE_ALL_ASSETS@ tombstones by type.
func TestRemoveAllAssets(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "TIME|@ASSET@|@1|Part|<Part assetId='1'>P1</Part>")
	feed(t, a, "000", "TIME|@ASSET@|@2|Part|<Part assetId='2'>P2</Part>")
	require.Equal(t, 2, a.Assets().Count())

	feed(t, a, "000", "TIME|@REMOVE_ALL_ASSETS@|Part")
	assert.Equal(t, 0, a.Assets().Count())
}

// P4: merging the same device model twice returns true then false.
func TestIdempotentDeviceMerge(t *testing.T) {
	a := newTestAgent(t)

	build := func() *device.Device {
		d := device.New("dev2", "SecondDevice", "001")
		di := device.NewDataItem("dev2_line", "LINE", device.CategoryEvent)
		di.Name = "line"
		d.AddDataItem(di)
		return d
	}

	assert.True(t, a.MergeDevice(build(), false), "first merge adds the device")
	assert.False(t, a.MergeDevice(build(), false), "second merge is a no-op")
}

// A changed model replaces the device and rebinds the buffer handles.
func TestDeviceReplaceRebindsBuffer(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "2021-02-01T12:00:00Z|line|204")

	devices, _, err := device.ParseDescriptorFile(testDescriptorPath)
	require.NoError(t, err)
	repl := devices[0]
	extra := device.NewDataItem("cn9", "TOOL_NUMBER", device.CategoryEvent)
	extra.Name = "tool"
	repl.Root().AddDataItem(extra)

	require.True(t, a.MergeDevice(repl, false))

	// The carried-over LINE handle now resolves to the replacement's item.
	latest := a.GetLatest("cn2")
	require.NotNil(t, latest)
	assert.Same(t, repl.DataItemByID("cn2"), latest.DataItem)

	// The new data item was registered and seeded.
	seeded := a.GetLatest("cn9")
	require.NotNil(t, seeded)
	assert.True(t, seeded.IsUnavailable())

	// Availability was carried forward.
	require.NotNil(t, repl.Availability())
}

// P3: a duplicate data-item id fails intake.
func TestDuplicateDataItemIDFailsIntake(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.xml")
	doc := `<?xml version="1.0"?>
<MTConnectDevices xmlns="urn:mtconnect.org:MTConnectDevices:2.0">
  <Devices>
    <Device id="d1" uuid="000" name="one">
      <DataItems><DataItem id="dup" type="LINE" category="EVENT"/></DataItems>
    </Device>
    <Device id="d2" uuid="001" name="two">
      <DataItems><DataItem id="dup" type="LINE" category="EVENT"/></DataItems>
    </Device>
  </Devices>
</MTConnectDevices>`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	a := New(Options{DeviceXMLPath: path, Port: 5000}, nil)
	err := a.Initialize()
	require.ErrorIs(t, err, device.ErrDuplicateDataItem)
}

// The uuid command re-keys the device and emits removal/addition events.
func TestUUIDCommand(t *testing.T) {
	a := newTestAgent(t)

	a.ReceiveCommand("000", "uuid", "111", "adapter")

	assert.Nil(t, a.Registry().ByUUID("000"))
	require.NotNil(t, a.Registry().ByUUID("111"))

	assert.Equal(t, "000", a.GetLatest("device_removed").Value)
	assert.Equal(t, "111", a.GetLatest("device_added").Value)
}

// The calibration command installs unit conversions.
func TestCalibrationCommand(t *testing.T) {
	a := newTestAgent(t)

	a.ReceiveCommand("000", "calibration", "Xact|2|1", "adapter")

	feed(t, a, "000", "TIME|Xact|10")
	latest := a.GetLatest("xpos")
	require.NotNil(t, latest)
	assert.Equal(t, 21.0, latest.Value)
}

// Adapter commands land on the agent device.
func TestAdapterVersionCommand(t *testing.T) {
	a := newTestAgent(t)
	a.AddAdapter("adapter")

	a.ReceiveCommand("000", "adapterversion", "2.3", "adapter")

	latest := a.GetLatest("_adapter_adapter_software_version")
	require.NotNil(t, latest)
	assert.Equal(t, "2.3", latest.Value)
}

// SourceFailed shuts the agent down when the last external source fails.
func TestSourceFailedShutdown(t *testing.T) {
	a := newTestAgent(t)

	stopped := false
	a.SetShutdown(func() { stopped = true })

	adapter := &fakeSource{identity: "adapter:7878"}
	a.Sources().Add(adapter)

	a.SourceFailed("adapter:7878")
	assert.True(t, adapter.stopped)
	assert.True(t, stopped, "last external source failing must initiate shutdown")
}

type fakeSource struct {
	identity string
	stopped  bool
}

func (f *fakeSource) Identity() string                { return f.identity }
func (f *fakeSource) IsLoopback() bool                { return false }
func (f *fakeSource) Start(ctx context.Context) error { return nil }
func (f *fakeSource) Stop()                           { f.stopped = true }

// Sequences remain strictly increasing across mixed feeds (P1 at the kernel
// level).
func TestSequenceMonotonicity(t *testing.T) {
	a := newTestAgent(t)

	feed(t, a, "000", "TIME|line|1|Xact|2.0")
	feed(t, a, "000", "TIME|line|2")

	_, list, _ := a.SampleObservations(1, 1000, nil)
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Equal(t, list[i-1].Sequence+1, list[i].Sequence)
	}
}

// The asset store reloads from its repository on startup.
func TestAssetPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := asset.OpenSQLiteRepository(filepath.Join(dir, "assets.db"))
	require.NoError(t, err)
	defer repo.Close()

	store := asset.NewStore(16)
	store.SetRepository(repo)
	store.AddAsset(&asset.Asset{
		AssetID:    "0001",
		Type:       "Part",
		DeviceUUID: "000",
		Timestamp:  testClock(),
		Raw:        `<Part assetId="0001"/>`,
	})

	fresh := asset.NewStore(16)
	fresh.SetRepository(repo)
	require.NoError(t, fresh.Load())
	reloaded := fresh.GetAsset("0001")
	require.NotNil(t, reloaded)
	assert.Equal(t, "Part", reloaded.Type)
}
