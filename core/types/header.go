// Package types implements the §3 data model: block headers, bodies,
// transactions, receipts and the ChainWeight total order used to compare
// competing chains.
package types

import (
	"io"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/crypto"
	"github.com/coreetc/chainsync/rlp"
)

// BloomByteLength is the number of bytes in a logs bloom filter.
const BloomByteLength = 256

// Bloom is a 2048-bit logs bloom filter.
type Bloom [BloomByteLength]byte

// Header is a block header. Field names follow the spec's data model (§3)
// rather than the teacher's legacy geth naming (UncleHash/Coinbase/Root/...),
// since the spec names them explicitly.
type Header struct {
	ParentHash       common.Hash
	OmmersHash       common.Hash
	Beneficiary      common.Address
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	LogsBloom        Bloom
	Difficulty       *big.Int
	Number           *big.Int
	GasLimit         uint64
	GasUsed          uint64
	Timestamp        uint64
	ExtraData        []byte
	MixHash          common.Hash
	Nonce            uint64
}

// rlpHeader mirrors Header field-for-field but is a plain struct free of
// methods, used only so Header can implement rlp.Encoder/Decoder without the
// encoder recursing back into those methods.
type rlpHeader struct {
	ParentHash       common.Hash
	OmmersHash       common.Hash
	Beneficiary      common.Address
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ReceiptsRoot     common.Hash
	LogsBloom        Bloom
	Difficulty       *big.Int
	Number           *big.Int
	GasLimit         uint64
	GasUsed          uint64
	Timestamp        uint64
	ExtraData        []byte
	MixHash          common.Hash
	Nonce            uint64
}

func (h *Header) toRLP() rlpHeader { return rlpHeader(*h) }

// EncodeRLP implements rlp.Encoder.
func (h *Header) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, h.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (h *Header) DecodeRLP(raw []byte) error {
	var r rlpHeader
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return err
	}
	*h = Header(r)
	return nil
}

// Hash returns keccak256(rlp(header)), the header's identity.
func (h *Header) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(h.toRLP())
	if err != nil {
		// Encoding a well-formed Header cannot fail; a failure here means a
		// caller constructed one with a nil big.Int, which is a programmer
		// error we surface loudly rather than returning a bogus hash.
		panic("types: header encode: " + err.Error())
	}
	return crypto.Keccak256Hash(enc)
}

// NumberU64 returns Number as a uint64, for callers that already know the
// chain has not reached 2^64 blocks.
func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return h.Number.Uint64()
}

// ValidateAgainstParent checks header linkage: number = parent.number + 1,
// timestamp >= parent.timestamp, and parentHash = parent.Hash().
func (h *Header) ValidateAgainstParent(parent *Header) error {
	if h.Number == nil || parent.Number == nil {
		return ErrMissingNumber
	}
	wantNumber := new(big.Int).Add(parent.Number, big.NewInt(1))
	if h.Number.Cmp(wantNumber) != 0 {
		return ErrInvalidNumber
	}
	if h.Timestamp < parent.Timestamp {
		return ErrInvalidTimestamp
	}
	if h.ParentHash != parent.Hash() {
		return ErrParentHashMismatch
	}
	return nil
}

// Weight returns the ChainWeight contribution of this single header, i.e.
// just its difficulty with no checkpoint bump; callers accumulate this atop
// the running weight of the chain so far.
func (h *Header) Weight() ChainWeight {
	d, _ := uint256.FromBig(h.Difficulty)
	return ChainWeight{TotalDifficulty: d}
}
