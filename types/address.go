package types

import (
	"errors"
	"strings"
	"unicode"
)

// Address identifies a participant: a seller, a buyer, the owner or the
// ledger's own vault. Addresses compare case-insensitively, so they are
// stored trimmed and lower-cased.
type Address string

// NoAddress is the zero address. Renouncing ownership assigns it.
const NoAddress Address = ""

var errEmptyAddress = errors.New("address is empty")

// ParseAddress normalizes s and rejects empty or whitespace-bearing input.
func ParseAddress(s string) (Address, error) {
	a := NormalizeAddress(s)
	if a == NoAddress {
		return NoAddress, errEmptyAddress
	}
	if strings.IndexFunc(string(a), unicode.IsSpace) >= 0 {
		return NoAddress, errors.New("address contains whitespace")
	}
	return a, nil
}

// NormalizeAddress trims and lower-cases s without validating it.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == NoAddress }

// Equal compares two addresses after normalization.
func (a Address) Equal(other Address) bool {
	return NormalizeAddress(string(a)) == NormalizeAddress(string(other))
}

// Validate reports whether a is a usable, already-normalized address.
func (a Address) Validate() error {
	parsed, err := ParseAddress(string(a))
	if err != nil {
		return err
	}
	if parsed != a {
		return errors.New("address is not normalized")
	}
	return nil
}
