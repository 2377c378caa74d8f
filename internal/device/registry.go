package device

import (
	"fmt"
	"sync"
)

// Registry is the multi-indexed collection of devices.
//
// The primary index is insertion order, used for iteration and the probe
// document. Secondary unique indices cover uuid and name. All index keys are
// rebuilt atomically under the registry lock, so readers observe either the
// old or the new state, never a torn one.
//
// All public methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex
	order  []*Device
	byUUID map[string]*Device
	byName map[string]*Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID: make(map[string]*Device),
		byName: make(map[string]*Device),
	}
}

// Add registers a device. Re-adding a uuid or name is an error; intake
// treats a uuid collision as fatal.
func (r *Registry) Add(d *Device) error {
	if d.UUID() == "" {
		return ErrMissingUUID
	}
	if d.Name() == "" {
		return ErrMissingName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUUID[d.UUID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, d.UUID())
	}
	if _, ok := r.byName[d.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name())
	}

	r.order = append(r.order, d)
	r.byUUID[d.UUID()] = d
	r.byName[d.Name()] = d
	return nil
}

// Replace swaps old for new in place, keeping the insertion position. Used by
// the device diff-and-replace path.
func (r *Registry) Replace(old, repl *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, d := range r.order {
		if d == old {
			r.order[i] = repl
			r.rebuildLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, old.UUID())
}

// ModifyUUID re-keys a device in place, used by the uuid adapter command.
func (r *Registry) ModifyUUID(d *Device, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.byUUID[uuid]; ok && other != d {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, uuid)
	}

	d.SetUUID(uuid)
	r.rebuildLocked()
	return nil
}

// rebuildLocked reconstructs both secondary indices from the primary order.
// Callers hold the write lock.
func (r *Registry) rebuildLocked() {
	r.byUUID = make(map[string]*Device, len(r.order))
	r.byName = make(map[string]*Device, len(r.order))
	for _, d := range r.order {
		r.byUUID[d.UUID()] = d
		r.byName[d.Name()] = d
	}
}

// ByUUID returns the device with the given uuid, or nil.
func (r *Registry) ByUUID(uuid string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUUID[uuid]
}

// ByName returns the device with the given name, or nil. An empty name
// resolves to the default device.
func (r *Registry) ByName(name string) *Device {
	if name == "" {
		return r.DefaultDevice()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// FindByUUIDOrName tries the uuid index first, then the name index. An empty
// key resolves to the default device.
func (r *Registry) FindByUUIDOrName(s string) *Device {
	if s == "" {
		return r.DefaultDevice()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byUUID[s]; ok {
		return d
	}
	return r.byName[s]
}

// DefaultDevice returns the first non-agent device, or nil.
func (r *Registry) DefaultDevice() *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.order {
		if !d.IsAgent {
			return d
		}
	}
	return nil
}

// Devices returns a snapshot of the devices in insertion order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
