package reputation

import "errors"

// Sentinel kinds for activity recording.
var (
	ErrUnknownActivity = errors.New("unknown activity kind")
	ErrMissingSignal   = errors.New("verification activity requires a signal")
)
