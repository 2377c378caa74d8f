// Package agent is the kernel: it owns the device registry, the data-item
// lookup map, the circular buffer, the asset store, and the loopback source,
// and it ties sources, pipelines, and sinks together.
//
// The kernel implements the pipeline Contract. Everything a pipeline
// delivers lands here: observations are admitted to the buffer and fanned
// out to the sinks, assets are canonicalized and stored, commands mutate
// devices, and connection status drives availability.
//
// The data-item map is guarded by the kernel mutex; the registry carries its
// own lock. Agent-generated observations only ever enter through the
// loopback source, so every observer channel sees one uniform stream.
package agent
