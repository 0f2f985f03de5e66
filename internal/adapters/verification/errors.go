package verification

import "errors"

// Sentinel kinds for verification errors.
var (
	ErrNoSignal    = errors.New("no verification signal")
	ErrBadResponse = errors.New("bad verification response")
	ErrUnavailable = errors.New("verification service unavailable")
)
