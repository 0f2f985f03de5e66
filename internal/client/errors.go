package client

import (
	"errors"
	"fmt"
)

// ErrBaseURL is returned for a base URL without scheme or host.
var ErrBaseURL = errors.New("invalid base url")

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}
