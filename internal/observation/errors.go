package observation

import "errors"

// Domain errors for the observation package.
var (
	// ErrSequenceOutOfRange is returned when a requested sequence is
	// outside the buffer's retained window.
	ErrSequenceOutOfRange = errors.New("observation: sequence out of range")
)
