package domain

import (
	"encoding/hex"
	"strings"

	dErrors "soulid/pkg/domain-errors"
)

// addressHexLen is the number of hex digits in a holder address (20 bytes).
const addressHexLen = 40

// Address identifies a holder or caller. The canonical form is "0x" followed
// by 40 lowercase hex digits; the zero value means "no address".
type Address string

// ParseAddress validates and canonicalizes an address. The 0x prefix is
// required and mixed-case input is accepted.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		digits, ok = strings.CutPrefix(s, "0X")
	}
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must start with 0x")
	}
	if len(digits) != addressHexLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must have 40 hex digits")
	}
	if _, err := hex.DecodeString(digits); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must be hexadecimal")
	}
	return Address("0x" + strings.ToLower(digits)), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return string(a)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}
