package rawdb

import (
	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/ethdb"
)

// WriteHeadBlockHash updates the persisted best-block pointer. Per the
// reorg-atomicity invariant, callers write this last, after the new
// canonical blocks are committed and the old ones removed.
func WriteHeadBlockHash(db ethdb.KeyValueWriter, hash common.Hash) error {
	return db.Put(headBlockKey, hash.Bytes())
}

// ReadHeadBlockHash returns the persisted best-block pointer, or the zero
// hash if none has been written yet (a fresh database).
func ReadHeadBlockHash(db ethdb.KeyValueReader) (common.Hash, error) {
	data, err := db.Get(headBlockKey)
	if err == ethdb.ErrNotFound {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}
