package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a user wallet address in EIP-55 checksum form.
type Address string

// ParseAddress validates a hex address and returns its checksummed form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAddress
	}
	return Address(common.HexToAddress(s).Hex()), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }
