// Package pipeline turns raw source records into typed observations,
// assets, and commands.
//
// A pipeline is an ordered chain of transforms. Each entity entering the
// chain is handled by the first transform whose guard matches its type;
// entities a transform emits through next() continue with the transforms
// after it, so branching falls out of guard matching. Transforms may hold
// state; each source owns its own pipeline instance.
//
// The delivery terminal at the tail routes observations to the kernel,
// assets to the store, commands to the command handler, and connection
// status to the connection coordinator, through the Contract interface.
//
// Failures are reported through the source error taxonomy in errors.go; the
// owning source decides whether to drop the record, restart its stream, or
// escalate to source failure.
package pipeline
