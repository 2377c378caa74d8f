// Package device holds the entity and device model: devices, components,
// data items, and compositions, plus the multi-indexed registry and the
// descriptor file parser.
//
// # Ownership
//
// Components own their data items. A device holds its components in an
// arena ([]*Component) with parent and child links stored as arena indices,
// so the parent references used for pathing never create an ownership
// cycle. Everything outside the device (the agent's data-item lookup, the
// circular buffer's handles) keeps non-owning references that are rebuilt
// when a device is replaced.
//
// # Registry
//
// The Registry keeps devices in insertion order (the probe document order)
// with unique secondary indices by uuid and name. Lookup by an empty key
// resolves to the default device, the first non-agent device.
package device
