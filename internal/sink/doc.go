// Package sink defines the publishing side of the agent: the Sink interface
// its REST, MQTT, and recorder implementations satisfy, and the manager that
// fans admitted entities out to them.
//
// Delivery guarantees are the kernel's: at-least-once per admitted
// observation, in admission order, and never before the observation is in
// the circular buffer. Everything beyond that (batching, retries,
// backpressure) is sink-private.
package sink
