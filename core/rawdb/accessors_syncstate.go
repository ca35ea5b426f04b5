package rawdb

import (
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/ethdb"
)

// WriteSyncState persists the FastSync component's sole durable progress
// record. Callers coalesce writes (see eth/fastsync) so this is invoked at
// most once per persistStateSnapshotInterval tick plus terminal transitions.
func WriteSyncState(db ethdb.KeyValueWriter, state *types.SyncState) error {
	var buf rlpBufWriter
	if err := state.EncodeRLP(&buf); err != nil {
		return err
	}
	return db.Put(fastSyncStateKey, buf.b)
}

// ReadSyncState loads the persisted SyncState, or nil if fast-sync has never
// run against this database.
func ReadSyncState(db ethdb.KeyValueReader) (*types.SyncState, error) {
	data, err := db.Get(fastSyncStateKey)
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s types.SyncState
	if err := s.DecodeRLP(data); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSyncState removes the persisted SyncState, used once fast-sync has
// fully handed off to regular sync and its progress record is obsolete.
func DeleteSyncState(db ethdb.KeyValueWriter) error {
	return db.Delete(fastSyncStateKey)
}
