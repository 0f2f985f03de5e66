package settlement

import "errors"

// Sentinel kinds for settlement errors.
var (
	ErrConservation = errors.New("settlement does not conserve stake")
	ErrNoTreasury   = errors.New("platform fee configured without a treasury account")
)
