package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDuplicateUUID) {
//	    // fatal intake
//	}
var (
	// ErrDeviceNotFound is returned when a uuid or name does not resolve.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateUUID is returned when adding a device whose uuid is
	// already registered. Intake treats this as fatal.
	ErrDuplicateUUID = errors.New("device: duplicate uuid")

	// ErrDuplicateName is returned when adding a device whose name is
	// already registered.
	ErrDuplicateName = errors.New("device: duplicate name")

	// ErrDuplicateDataItem is returned when two data items share an id.
	// Intake treats this as fatal.
	ErrDuplicateDataItem = errors.New("device: duplicate data item id")

	// ErrMissingUUID is returned for a device declared without a uuid.
	ErrMissingUUID = errors.New("device: missing uuid")

	// ErrMissingName is returned for a device declared without a name.
	ErrMissingName = errors.New("device: missing name")

	// ErrInvalidDescriptor is returned when the descriptor document cannot
	// be parsed.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrSchemaMismatch names a reloaded descriptor whose schema version
	// differs from the running agent's. Agent.ReloadDevices reports that case
	// by returning false with a nil error, not with this error.
	ErrSchemaMismatch = errors.New("device: schema version mismatch")

	// ErrInvalidPath is returned when a path filter expression cannot be
	// parsed.
	ErrInvalidPath = errors.New("device: invalid path expression")
)
