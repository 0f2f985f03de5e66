package model

import "errors"

// Sentinel kinds for model validation.
var (
	ErrInvalidAddress = errors.New("invalid address")
)
