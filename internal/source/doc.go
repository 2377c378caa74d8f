// Package source manages the agent's ingesting sources: SHDR adapters over
// TCP, upstream-agent relays, and the internal loopback.
//
// The loopback source is the only permitted origin for agent-generated
// observations; everything the kernel synthesizes (initial values,
// connection status, device and asset events) goes through it so every
// observer channel sees one uniform stream.
//
// Sources are shared between the agent and the manager; when a source fails
// unrecoverably the agent removes it, and shuts down when no non-loopback
// source remains.
package source
