package types

import "errors"

var (
	// ErrMissingNumber is returned when a header or its parent carries a nil
	// Number, which should never happen for a header that has passed
	// decoding.
	ErrMissingNumber = errors.New("types: header missing number")

	// ErrInvalidNumber is returned when a header's Number does not equal
	// parent.Number + 1.
	ErrInvalidNumber = errors.New("types: header number is not parent+1")

	// ErrInvalidTimestamp is returned when a header's Timestamp predates its
	// parent's.
	ErrInvalidTimestamp = errors.New("types: header timestamp precedes parent")

	// ErrParentHashMismatch is returned when a header's ParentHash does not
	// match the hash of the header passed as its parent.
	ErrParentHashMismatch = errors.New("types: header parent hash mismatch")

	// ErrInvalidSender is returned when a transaction's signature does not
	// recover to a valid sender address.
	ErrInvalidSender = errors.New("types: invalid transaction sender")

	// ErrReceiptStatusUnsupported is returned when decoding a post-Byzantium
	// receipt whose status byte is neither 0 nor 1.
	ErrReceiptStatusUnsupported = errors.New("types: unsupported receipt status")
)
