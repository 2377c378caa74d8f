// Package observation holds typed observations, the circular buffer that
// retains a bounded history of them, and the checkpoints that make any
// retained sequence reconstructible.
//
// The buffer assigns strictly monotonic sequences at admission and guards
// all access with one exclusive lock. Checkpoints fold the latest value per
// data item; DATA_SET and TABLE observations merge into the previous value
// unless a reset was triggered, so the current view always shows the full
// set while the sample stream shows the deltas.
package observation
