package config

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

func wrapInvalid(field string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, field)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
}

func wrapLoad(err error) error {
	return fmt.Errorf("%w: %v", ErrLoadConfig, err)
}
