package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/metrics"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
	"github.com/SMSLab-dev/mtconnect-agent/internal/printer"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink"
	"github.com/SMSLab-dev/mtconnect-agent/internal/source"
)

// Logger is the narrow logging interface used by the kernel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures the kernel.
type Options struct {
	// DeviceXMLPath is the descriptor file declaring the device tree.
	DeviceXMLPath string

	// SchemaVersion pins the schema version; empty defers to the
	// descriptor's version, then the highest supported.
	SchemaVersion string

	// BufferSize is the exponent k; the buffer holds 2^k observations.
	BufferSize int

	// CheckpointFrequency is the admissions between buffer checkpoints.
	CheckpointFrequency int

	// MaxAssets is the asset store capacity.
	MaxAssets int

	// DisableAgentDevice suppresses the synthetic agent device.
	DisableAgentDevice bool

	// VersionDeviceXML backs up the descriptor before rewriting it.
	VersionDeviceXML bool

	// Address and Port are the agent's advertised endpoint; the agent
	// device uuid is derived from "<address>:<port>".
	Address string
	Port    int

	// Version is the agent software version, printed in headers.
	Version string

	// Pretty pretty-prints the documents.
	Pretty bool

	// JSONVersion selects the JSON printer layout (1 or 2).
	JSONVersion int
}

// Agent is the kernel: it owns the device registry, the data-item lookup
// map, the circular buffer, the asset store, and the loopback source, and it
// reacts to everything the pipelines deliver.
//
// The data-item map is guarded by the kernel mutex; the registry, the buffer
// and the asset store carry their own locks.
type Agent struct {
	opts Options

	mu          sync.Mutex
	registry    *device.Registry
	dataItemMap map[string]*device.DataItem

	buffer    *observation.Buffer
	assets    *asset.Store
	factories *asset.FactorySet

	printers map[string]printer.Printer

	sources  *source.Manager
	sinks    *sink.Manager
	loopback *source.LoopbackSource

	agentDevice *device.Device

	schemaVersion device.SchemaVersion
	instanceID    uint64

	initialized             bool
	observationsInitialized bool

	metrics  *metrics.Metrics
	logger   Logger
	now      func() time.Time
	shutdown func()
}

// New creates an agent kernel with its owned collections. Call Initialize to
// load the descriptor before Start.
func New(opts Options, logger Logger) *Agent {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = 17
	}
	if opts.CheckpointFrequency == 0 {
		opts.CheckpointFrequency = 1000
	}
	if opts.MaxAssets == 0 {
		opts.MaxAssets = 1024
	}

	a := &Agent{
		opts:        opts,
		registry:    device.NewRegistry(),
		dataItemMap: make(map[string]*device.DataItem),
		buffer:      observation.NewBuffer(opts.BufferSize, opts.CheckpointFrequency),
		assets:      asset.NewStore(opts.MaxAssets),
		factories:   asset.DefaultFactories(),
		printers:    make(map[string]printer.Printer),
		sources:     source.NewManager(logger),
		sinks:       sink.NewManager(),
		instanceID:  uint64(time.Now().Unix()),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}

	a.printers["xml"] = printer.NewXMLPrinter(opts.Pretty)
	a.printers["json"] = printer.NewJSONPrinter(opts.JSONVersion, opts.Pretty)

	// The loopback pipeline goes straight to delivery.
	loopPipe := pipeline.New(pipeline.NewDeliveryTerminal(a))
	a.loopback = source.NewLoopback(loopPipe, logger)
	a.sources.Add(a.loopback)

	return a
}

// SetClock overrides the kernel time source, for tests.
func (a *Agent) SetClock(now func() time.Time) {
	a.now = now
	a.loopback.SetClock(now)
}

// SetMetrics installs the instrumentation shared with the sinks.
func (a *Agent) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// SetShutdown installs the callback that initiates agent shutdown when the
// last non-loopback source fails.
func (a *Agent) SetShutdown(fn func()) { a.shutdown = fn }

// Initialize loads the descriptor file, resolves the effective schema
// version, creates the agent device, and registers every declared device.
// A descriptor parse failure or a duplicate data-item id is a fatal intake
// error.
func (a *Agent) Initialize() error {
	devices, descriptorVersion, err := device.ParseDescriptorFile(a.opts.DeviceXMLPath)
	if err != nil {
		return err
	}

	versionStr := a.opts.SchemaVersion
	if versionStr == "" {
		versionStr = descriptorVersion
	}
	if versionStr == "" {
		versionStr = device.DefaultSchemaVersion
	}
	a.schemaVersion, err = device.ParseSchemaVersion(versionStr)
	if err != nil {
		return err
	}
	for _, p := range a.printers {
		p.SetSchemaVersion(versionStr)
	}

	if !a.opts.DisableAgentDevice && a.schemaVersion.AtLeast(1, 7) {
		if err := a.createAgentDevice(); err != nil {
			return err
		}
	}

	for _, d := range devices {
		if err := a.addDevice(d); err != nil {
			return err
		}
	}

	a.initialized = true
	return nil
}

// InstanceID returns the agent's instance id, latched at construction.
func (a *Agent) InstanceID() uint64 { return a.instanceID }

// SchemaVersion returns the effective schema version string.
func (a *Agent) SchemaVersion() string { return a.schemaVersion.String() }

// Registry returns the device registry.
func (a *Agent) Registry() *device.Registry { return a.registry }

// Buffer returns the circular observation buffer.
func (a *Agent) Buffer() *observation.Buffer { return a.buffer }

// Assets returns the asset store.
func (a *Agent) Assets() *asset.Store { return a.assets }

// Factories returns the registered asset factories.
func (a *Agent) Factories() *asset.FactorySet { return a.factories }

// Loopback returns the agent's loopback source.
func (a *Agent) Loopback() *source.LoopbackSource { return a.loopback }

// Sources returns the source manager.
func (a *Agent) Sources() *source.Manager { return a.sources }

// Sinks returns the sink manager.
func (a *Agent) Sinks() *sink.Manager { return a.sinks }

// AgentDevice returns the synthetic agent device, or nil when disabled.
func (a *Agent) AgentDevice() *device.Device { return a.agentDevice }

// Printer returns the named printer variant ("xml" or "json"), or nil.
func (a *Agent) Printer(name string) printer.Printer { return a.printers[name] }

// Header assembles the document header for the printers.
func (a *Agent) Header() printer.Header {
	first, next := a.buffer.SequenceRange()
	hostname, _ := os.Hostname()
	return printer.Header{
		CreationTime:  a.now(),
		Sender:        hostname,
		InstanceID:    a.instanceID,
		Version:       a.opts.Version,
		BufferSize:    a.buffer.Capacity(),
		AssetBuffer:   a.assets.Capacity(),
		AssetCount:    a.assets.Count(),
		FirstSequence: first,
		LastSequence:  next - 1,
		NextSequence:  next,
	}
}

// Start brings the agent up: sinks first, then the initial data-item
// observations, then sources. A sink startup failure is fatal.
func (a *Agent) Start(ctx context.Context) error {
	if !a.initialized {
		return fmt.Errorf("agent not initialized")
	}
	if err := a.sinks.Start(ctx); err != nil {
		return fmt.Errorf("starting sinks: %w", err)
	}

	a.initialDataItemObservations()

	if a.agentDevice != nil {
		if di := a.agentDevice.DataItemByID(a.agentDevice.ID() + "_avail"); di != nil {
			a.loopback.Receive(di, "AVAILABLE")
		}
	}

	if err := a.sources.Start(ctx); err != nil {
		return fmt.Errorf("starting sources: %w", err)
	}
	return nil
}

// Stop reverses Start: sources first so no new input arrives, then sinks,
// then every observer is released with the shutdown sentinel.
func (a *Agent) Stop() {
	a.logger.Info("shutting down sources")
	a.sources.Stop()

	a.logger.Info("shutting down sinks")
	a.sinks.Stop()

	a.logger.Info("signaling observers to close sessions")
	a.buffer.SignalObservers(0)
}

// initialDataItemObservations seeds every data item with its initial value
// and fires device_added for each device.
func (a *Agent) initialDataItemObservations() {
	if a.observationsInitialized {
		return
	}

	for _, d := range a.registry.Devices() {
		a.seedDataItems(d)
	}

	if a.agentDevice != nil {
		added := a.agentDevice.DataItemByName("device_added")
		for _, d := range a.registry.Devices() {
			a.loopback.Receive(added, d.UUID())
		}
	}

	a.observationsInitialized = true
}

// registerDataItems records a device's data items in the lookup map. A
// colliding id owned by another data item is the fatal intake error unless
// the id was carried over from a replaced device (skip).
func (a *Agent) registerDataItems(d *device.Device, skip map[string]bool) error {
	for _, di := range d.DataItems() {
		a.mu.Lock()
		existing, known := a.dataItemMap[di.ID]
		a.mu.Unlock()

		if known && existing != di && (skip == nil || !skip[di.ID]) {
			return fmt.Errorf("%w: %s on device %s", device.ErrDuplicateDataItem, di.ID, d.Name())
		}

		a.mu.Lock()
		a.dataItemMap[di.ID] = di
		a.mu.Unlock()
	}
	return nil
}

// seedDataItems injects every data item's initial value through the
// loopback: the constant value when declared, otherwise UNAVAILABLE
// (conditions at level UNAVAILABLE).
func (a *Agent) seedDataItems(d *device.Device) {
	for _, di := range d.DataItems() {
		value := observation.Unavailable
		if di.ConstantValue != nil && !di.IsCondition() {
			value = *di.ConstantValue
		}
		a.loopback.Receive(di, value)
	}
}

// addDevice registers a new device: a duplicate uuid or data-item id is
// fatal intake. When the agent is already running, the device's data items
// are seeded and device_added is emitted immediately.
func (a *Agent) addDevice(d *device.Device) error {
	if !d.IsAgent {
		device.Verify(d, a.schemaVersion)
	}

	if err := a.registry.Add(d); err != nil {
		return err
	}
	if err := a.registerDataItems(d, nil); err != nil {
		return err
	}

	if a.observationsInitialized {
		a.seedDataItems(d)
		if a.agentDevice != nil && d != a.agentDevice {
			a.loopback.Receive(a.agentDevice.DataItemByName("device_added"), d.UUID())
		}
	}

	a.setModelChangeTime()
	return nil
}

// setModelChangeTime stamps every printer with the current model change
// time.
func (a *Agent) setModelChangeTime() {
	t := printerTime(a.now())
	for _, p := range a.printers {
		p.SetModelChangeTime(t)
	}
}

// ReceiveDevice merges a device model received from a source or a reload.
//
// A new uuid adds the device. An existing device is structurally compared:
// an equal model is a no-op; a changed model carries forward the required
// device-level data items, atomically replaces the registry entry, wipes the
// stale lookup entries, rebinds the buffer handles, optionally versions the
// descriptor file, and emits device_changed. It returns nothing; MergeDevice
// reports whether the model changed.
func (a *Agent) ReceiveDevice(d *device.Device) { a.MergeDevice(d, true) }

// MergeDevice is the diff-and-replace path behind ReceiveDevice. It returns
// true when the device was added or its model changed; version controls the
// descriptor backup.
func (a *Agent) MergeDevice(d *device.Device, version bool) bool {
	if d == nil || d.UUID() == "" {
		a.logger.Error("received device without a uuid")
		return false
	}

	old := a.registry.FindByUUIDOrName(d.UUID())
	if old == nil && d.Name() != "" {
		old = a.registry.ByName(d.Name())
	}

	if old == nil {
		a.logger.Info("received new device, adding", "uuid", d.UUID())
		if err := a.addDevice(d); err != nil {
			a.logger.Error("adding received device", "uuid", d.UUID(), "error", err)
			return false
		}
		if version {
			a.versionDeviceXML()
		}
		return true
	}

	device.CarryForward(old, d)
	device.Verify(d, a.schemaVersion)

	if d.Equal(old) {
		a.logger.Info("device did not change, ignoring", "uuid", d.UUID())
		return false
	}

	a.logger.Info("device changed, updating model", "uuid", d.UUID())

	// Wipe the stale lookup entries; carried-over ids keep their history.
	skip := make(map[string]bool)
	a.mu.Lock()
	for _, di := range old.DataItems() {
		delete(a.dataItemMap, di.ID)
		skip[di.ID] = true
	}
	a.mu.Unlock()

	if err := a.registry.Replace(old, d); err != nil {
		a.logger.Error("replacing device", "uuid", d.UUID(), "error", err)
		return false
	}

	if err := a.registerDataItems(d, skip); err != nil {
		a.logger.Error("registering replacement data items", "uuid", d.UUID(), "error", err)
		return false
	}
	if a.observationsInitialized {
		a.seedDataItems(d)
	}

	a.mu.Lock()
	items := make(map[string]*device.DataItem, len(a.dataItemMap))
	for id, di := range a.dataItemMap {
		items[id] = di
	}
	a.mu.Unlock()
	a.buffer.UpdateDataItems(items)

	if version {
		a.versionDeviceXML()
	}

	if a.agentDevice != nil {
		a.loopback.Receive(a.agentDevice.DataItemByName("device_changed"), d.UUID())
	}
	a.setModelChangeTime()
	a.sinks.PublishDeviceChange(d)

	return true
}

// ReloadDevices re-parses the descriptor file and merges each device. A
// schema version mismatch rejects the reload; the caller must restart the
// agent.
func (a *Agent) ReloadDevices(path string) (bool, error) {
	devices, version, err := device.ParseDescriptorFile(path)
	if err != nil {
		return false, err
	}

	if version != "" {
		parsed, err := device.ParseSchemaVersion(version)
		if err != nil {
			return false, err
		}
		if parsed != a.schemaVersion {
			a.logger.Warn("descriptor schema version does not match running agent, restart required",
				"descriptor", version, "agent", a.schemaVersion.String())
			return false, nil
		}
	}

	for _, d := range devices {
		a.MergeDevice(d, false)
	}
	return true, nil
}

// versionDeviceXML backs up the descriptor with a local-timestamp suffix and
// rewrites it as a fresh probe document without the agent device.
func (a *Agent) versionDeviceXML() {
	if !a.opts.VersionDeviceXML {
		return
	}

	path := a.opts.DeviceXMLPath
	backup := path + "." + strings.ReplaceAll(a.now().Local().Format("2006-01-02T15:04:05"), ":", "")
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		if err := os.Rename(path, backup); err != nil {
			a.logger.Error("backing up descriptor", "path", path, "error", err)
			return
		}
	}

	var list []*device.Device
	for _, d := range a.registry.Devices() {
		if !d.IsAgent {
			list = append(list, d)
		}
	}

	pr := printer.NewXMLPrinter(true)
	pr.SetSchemaVersion(a.schemaVersion.String())
	doc, err := pr.PrintProbe(a.Header(), list)
	if err != nil {
		a.logger.Error("printing descriptor", "error", err)
		return
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		a.logger.Error("writing descriptor", "path", path, "error", err)
	}
}

// ReceiveObservation admits an observation to the buffer and, when it was
// not filtered, fans it out to every sink in admission order.
func (a *Agent) ReceiveObservation(obs *observation.Observation) {
	seq := a.buffer.AddToBuffer(obs)
	if seq == 0 {
		if a.metrics != nil {
			a.metrics.ObservationsFiltered.Inc()
		}
		return
	}
	if a.metrics != nil {
		a.metrics.ObservationsAdmitted.Inc()
	}
	a.sinks.PublishObservation(obs)
}

// GetLatest returns the latest folded observation for a data item.
func (a *Agent) GetLatest(id string) *observation.Observation {
	return a.buffer.GetLatest(id)
}

// FindDataItem implements the pipeline contract: resolve an adapter key
// against the named device or the default device.
func (a *Agent) FindDataItem(deviceKey, key string) *device.DataItem {
	d := a.registry.FindByUUIDOrName(deviceKey)
	if d == nil {
		return nil
	}
	return d.DataItemByName(key)
}

// DataItemByID implements the pipeline contract: resolve a data item id
// across all devices.
func (a *Agent) DataItemByID(id string) *device.DataItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dataItemMap[id]
}

// FindDeviceByUUIDOrName resolves a device key, empty meaning the default
// device.
func (a *Agent) FindDeviceByUUIDOrName(key string) *device.Device {
	return a.registry.FindByUUIDOrName(key)
}

// SourceFailed stops and removes the named source. When no non-loopback
// source remains the agent logs a fatal diagnostic and initiates shutdown.
func (a *Agent) SourceFailed(identity string) {
	removed := a.sources.Remove(identity)
	if removed == nil {
		a.logger.Error("cannot find failed source", "identity", identity)
		return
	}

	if !a.sources.HasNonLoopback() {
		a.logger.Error("source failed", "identity", identity)
		a.logger.Error("no external adapters present, shutting down")
		if a.shutdown != nil {
			a.shutdown()
		}
		return
	}
	a.logger.Error("source failed", "identity", identity)
}

// printerTime renders a model-change or document timestamp.
func printerTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
