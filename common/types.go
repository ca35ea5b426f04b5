// Package common holds the small fixed-size value types shared by every
// other package in this module: hashes, addresses and the byte-slice helpers
// built on top of them.
package common

import (
	"encoding/hex"
	"fmt"
)

const (
	// HashLength is the expected length of a keccak256 digest.
	HashLength = 32
	// AddressLength is the expected length of an account address.
	AddressLength = 20
)

// Hash represents a 32-byte keccak256 digest.
type Hash [HashLength]byte

// BytesToHash sets b as the trailing bytes of a Hash, left-padding or
// truncating from the left as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Bytes returns the raw bytes of h.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Cmp orders two hashes lexicographically by their byte representation.
func (h Hash) Cmp(other Hash) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Address represents a 20-byte account address.
type Address [AddressLength]byte

// BytesToAddress sets b as the trailing bytes of an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Bytes returns the raw bytes of a.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the 0x-prefixed hex encoding of a.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// HexToHash decodes a 0x-prefixed (or bare) hex string into a Hash.
func HexToHash(s string) Hash { return BytesToHash(FromHex(s)) }

// FromHex decodes a 0x-prefixed (or bare) hex string, returning nil if the
// string is not valid hex — used only for test fixtures and log formatting,
// never for wire data.
func FromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// PrettyDuration is a duration that formats compactly for log lines, e.g.
// "1.234s" instead of Go's default "1.234000s".
type PrettyDuration int64

func (p PrettyDuration) String() string {
	return fmt.Sprintf("%.3fs", float64(p)/1e9)
}
