// Package asset holds the typed asset model and the capacity-bounded store.
//
// The store is an LRU keyed by assetId with secondary indices by device,
// by type, and by the (device, type) composite. Removal tombstones an entry
// in place so streams can still resolve it; the slot is reclaimed by normal
// eviction. Counts always exclude tombstones.
//
// Asset payloads are parsed by factories registered per asset type at agent
// construction. An optional SQLite repository persists assets across
// restarts; observations never are.
package asset
