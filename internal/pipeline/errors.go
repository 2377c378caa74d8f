package pipeline

import "errors"

// The source error taxonomy. The pipeline driver and sources dispatch on
// these with errors.Is to decide whether to drop the record, restart the
// stream, or escalate to source failure.
var (
	// ErrAdapterFailed means the source cannot recover; the agent removes
	// it and shuts down when it was the last non-loopback source.
	ErrAdapterFailed = errors.New("pipeline: adapter failed and cannot recover")

	// ErrStreamClosed means the upstream producer closed the stream; the
	// source reconnects locally.
	ErrStreamClosed = errors.New("pipeline: the stream closed")

	// ErrInstanceIDChanged means the upstream agent restarted; feedback is
	// reset and the source must re-probe and resume from sequence 0.
	ErrInstanceIDChanged = errors.New("pipeline: the instance id of the upstream agent changed")

	// ErrRestartStream means the upstream returned a stream-level error;
	// the source closes and reopens the stream.
	ErrRestartStream = errors.New("pipeline: the data stream needs to restart")

	// ErrRetryRequest means a transient upstream failure; the source
	// retries the last request with a bound.
	ErrRetryRequest = errors.New("pipeline: retry the last failed request")

	// ErrMultipartStreamFailed means the upstream does not support
	// multipart streaming. The Upstream source always polls and neither
	// returns nor handles it.
	ErrMultipartStreamFailed = errors.New("pipeline: multipart stream not available")
)
