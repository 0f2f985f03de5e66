package simulate

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrTimeout       = errors.New("timed out waiting for the node")
)
