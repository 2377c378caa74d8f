package pipeline

import (
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
)

// Entity is a unit of work flowing through the pipeline. Transforms match
// entities by concrete type through their guards.
type Entity interface {
	EntityName() string
}

// Data is a raw record from a source: one SHDR line from an adapter, or one
// XML document from an upstream agent.
type Data struct {
	// Source is the producing source's identity.
	Source string

	// Device is the source's default device uuid or name. Empty selects the
	// agent's default device.
	Device string

	// Value is the raw record.
	Value string
}

// EntityName implements Entity.
func (*Data) EntityName() string { return "Data" }

// Tokens is a tokenized SHDR record with its extracted timestamp.
type Tokens struct {
	Source    string
	Device    string
	Timestamp time.Time
	Duration  float64
	Tokens    []string
}

// EntityName implements Entity.
func (*Tokens) EntityName() string { return "Tokens" }

// Observations is a batch of typed observations bound for the kernel.
type Observations struct {
	List []*observation.Observation
}

// EntityName implements Entity.
func (*Observations) EntityName() string { return "Observations" }

// AssetEntity is a parsed asset bound for the kernel.
type AssetEntity struct {
	Asset *asset.Asset
}

// EntityName implements Entity.
func (*AssetEntity) EntityName() string { return "Asset" }

// Asset command names.
const (
	AssetCommandRemove    = "RemoveAsset"
	AssetCommandRemoveAll = "RemoveAll"
)

// AssetCommand is an asset removal request.
type AssetCommand struct {
	Command string // AssetCommandRemove or AssetCommandRemoveAll
	AssetID string
	Device  string
	Type    string
}

// EntityName implements Entity.
func (*AssetCommand) EntityName() string { return "AssetCommand" }

// Command is a parsed `*<name>: <value>` adapter command.
type Command struct {
	Source string
	Device string
	Name   string
	Value  string
}

// EntityName implements Entity.
func (*Command) EntityName() string { return "Command" }

// Connection states reported by sources.
const (
	StatusConnecting   = "CONNECTING"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
)

// ConnectionStatus reports a source's connection state change.
type ConnectionStatus struct {
	Status        string
	Source        string
	Devices       []string
	AutoAvailable bool
}

// EntityName implements Entity.
func (*ConnectionStatus) EntityName() string { return "ConnectionStatus" }

// DeviceEntity is a device model parsed from an upstream probe document.
type DeviceEntity struct {
	Device *device.Device
}

// EntityName implements Entity.
func (*DeviceEntity) EntityName() string { return "Device" }

// Entities wraps the children emitted by a document transform, returned as
// the transform's own result.
type Entities struct {
	List []Entity
}

// EntityName implements Entity.
func (*Entities) EntityName() string { return "Entities" }
