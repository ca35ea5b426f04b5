package rawdb

import (
	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/rlp"
)

// TxLookupEntry locates the block and position of a transaction by hash,
// the index behind §6's "transaction-location" namespace.
type TxLookupEntry struct {
	BlockHash  common.Hash
	BlockNumber uint64
	Index      uint64
}

// WriteTxLookupEntries indexes every hash in txHashes, at its position in the
// list, under the block it belongs to, so a later GetTransaction-by-hash lookup resolves in O(1).
func WriteTxLookupEntries(db ethdb.KeyValueWriter, number uint64, hash common.Hash, txHashes []common.Hash) error {
	for i, txHash := range txHashes {
		entry := TxLookupEntry{BlockHash: hash, BlockNumber: number, Index: uint64(i)}
		enc, err := rlp.EncodeToBytes(entry)
		if err != nil {
			return err
		}
		if err := db.Put(txLookupKey(txHash.Bytes()), enc); err != nil {
			return err
		}
	}
	return nil
}

// ReadTxLookupEntry resolves where a transaction hash was included.
func ReadTxLookupEntry(db ethdb.KeyValueReader, txHash common.Hash) (*TxLookupEntry, error) {
	data, err := db.Get(txLookupKey(txHash.Bytes()))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry TxLookupEntry
	if err := rlp.DecodeBytes(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteTxLookupEntries removes the index entries for txHashes, used when a
// reorg retires a block from the canonical chain.
func DeleteTxLookupEntries(db ethdb.KeyValueWriter, txHashes []common.Hash) error {
	for _, h := range txHashes {
		if err := db.Delete(txLookupKey(h.Bytes())); err != nil {
			return err
		}
	}
	return nil
}
