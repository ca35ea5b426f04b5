package rawdb

import (
	"github.com/holiman/uint256"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/rlp"
)

// WriteCanonicalHash records hash as the canonical block at number, and
// indexes hash -> number for the reverse lookup.
func WriteCanonicalHash(db ethdb.KeyValueWriter, hash common.Hash, number uint64) error {
	if err := db.Put(headerHashKey(number), hash.Bytes()); err != nil {
		return err
	}
	return db.Put(headerNumberKey(hash.Bytes()), encodeBlockNumber(number))
}

// DeleteCanonicalHash removes the canonical-index entry at number, used
// when a reorg's old suffix is rolled back. It does not touch the reverse
// hash->number index or the header/body/receipt content themselves, which
// remain addressable by hash for as long as anything still references them.
func DeleteCanonicalHash(db ethdb.KeyValueWriter, number uint64) error {
	return db.Delete(headerHashKey(number))
}

// ReadCanonicalHash returns the canonical hash at number, or the zero hash
// if none is recorded.
func ReadCanonicalHash(db ethdb.KeyValueReader, number uint64) (common.Hash, error) {
	data, err := db.Get(headerHashKey(number))
	if err == ethdb.ErrNotFound {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// ReadHeaderNumber returns the block number indexed for hash.
func ReadHeaderNumber(db ethdb.KeyValueReader, hash common.Hash) (uint64, bool, error) {
	data, err := db.Get(headerNumberKey(hash.Bytes()))
	if err == ethdb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return decodeBlockNumber(data), true, nil
}

func decodeBlockNumber(enc []byte) uint64 {
	var n uint64
	for _, b := range enc {
		n = n<<8 | uint64(b)
	}
	return n
}

// WriteHeader persists a header under its (number, hash) key.
func WriteHeader(db ethdb.KeyValueWriter, header *types.Header) error {
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	return db.Put(headerKey(header.NumberU64(), header.Hash().Bytes()), enc)
}

// ReadHeader loads the header stored at (number, hash).
func ReadHeader(db ethdb.KeyValueReader, number uint64, hash common.Hash) (*types.Header, error) {
	data, err := db.Get(headerKey(number, hash.Bytes()))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h types.Header
	if err := h.DecodeRLP(data); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteBody persists a block body under (number, hash).
func WriteBody(db ethdb.KeyValueWriter, number uint64, hash common.Hash, body *types.Body) error {
	enc, err := rlp.EncodeToBytes(body)
	if err != nil {
		return err
	}
	return db.Put(bodyKey(number, hash.Bytes()), enc)
}

// ReadBody loads the body stored at (number, hash).
func ReadBody(db ethdb.KeyValueReader, number uint64, hash common.Hash) (*types.Body, error) {
	data, err := db.Get(bodyKey(number, hash.Bytes()))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var body types.Body
	if err := rlp.DecodeBytes(data, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// rlpReceipts is the on-disk wrapper for a block's receipt list; receipts
// decode with DecodeReceipt which needs the block number, so this namespace
// stores the number-scoped bytes per receipt rather than relying on RLP's
// automatic struct decoding.
type rlpReceipts struct {
	Raw [][]byte
}

// WriteReceipts persists a block's receipts under (number, hash).
func WriteReceipts(db ethdb.KeyValueWriter, number uint64, hash common.Hash, receipts []*types.Receipt) error {
	raw := make([][]byte, len(receipts))
	for i, r := range receipts {
		var buf rlpBufWriter
		if err := r.EncodeRLP(&buf); err != nil {
			return err
		}
		raw[i] = buf.b
	}
	enc, err := rlp.EncodeToBytes(rlpReceipts{Raw: raw})
	if err != nil {
		return err
	}
	return db.Put(receiptsKey(number, hash.Bytes()), enc)
}

// ReadReceipts loads the receipts stored at (number, hash).
func ReadReceipts(db ethdb.KeyValueReader, number uint64, hash common.Hash) ([]*types.Receipt, error) {
	data, err := db.Get(receiptsKey(number, hash.Bytes()))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var wrapped rlpReceipts
	if err := rlp.DecodeBytes(data, &wrapped); err != nil {
		return nil, err
	}
	out := make([]*types.Receipt, len(wrapped.Raw))
	for i, raw := range wrapped.Raw {
		r, err := types.DecodeReceipt(raw, number)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

type rlpBufWriter struct{ b []byte }

func (w *rlpBufWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// rlpChainWeight is the wire form of types.ChainWeight: TotalDifficulty has
// to cross as a big.Int-shaped byte string since uint256.Int doesn't
// implement rlp.Encoder/Decoder itself.
type rlpChainWeight struct {
	LatestCheckpointNumber uint64
	TotalDifficulty        []byte
}

// WriteChainWeight persists the ChainWeight accumulated through (number, hash).
func WriteChainWeight(db ethdb.KeyValueWriter, number uint64, hash common.Hash, w types.ChainWeight) error {
	enc, err := rlp.EncodeToBytes(rlpChainWeight{
		LatestCheckpointNumber: w.LatestCheckpointNumber,
		TotalDifficulty:        w.TotalDifficulty.Bytes(),
	})
	if err != nil {
		return err
	}
	return db.Put(tdKey(number, hash.Bytes()), enc)
}

// ReadChainWeight loads the ChainWeight accumulated through (number, hash).
func ReadChainWeight(db ethdb.KeyValueReader, number uint64, hash common.Hash) (types.ChainWeight, bool, error) {
	data, err := db.Get(tdKey(number, hash.Bytes()))
	if err == ethdb.ErrNotFound {
		return types.ChainWeight{}, false, nil
	}
	if err != nil {
		return types.ChainWeight{}, false, err
	}
	var dec rlpChainWeight
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return types.ChainWeight{}, false, err
	}
	w := types.NewChainWeight(dec.LatestCheckpointNumber, new(uint256.Int).SetBytes(dec.TotalDifficulty))
	return w, true, nil
}
