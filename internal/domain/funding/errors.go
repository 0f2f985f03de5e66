package funding

import "errors"

// Sentinel kinds for funding errors.
var (
	ErrInvalidTransition = errors.New("invalid funding transition")
	ErrUnknownEvent      = errors.New("not a funding event")
	ErrMissingRecord     = errors.New("funding event without record id")
)
