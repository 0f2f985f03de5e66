package ledger

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRecordNotLocked   = errors.New("stake record not locked")
	ErrRecordNotPending  = errors.New("stake record not pending")
	ErrRecordNotFound    = errors.New("stake record not found")
)
