package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrUnknownDriver = errors.New("unknown cache driver")
)
