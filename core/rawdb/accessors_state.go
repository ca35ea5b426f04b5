package rawdb

import "github.com/coreetc/chainsync/ethdb"

// WriteStateNode persists a trie node's raw bytes under its keccak256 hash.
func WriteStateNode(db ethdb.KeyValueWriter, hash, node []byte) error {
	return db.Put(stateNodeKey(hash), node)
}

// ReadStateNode loads a trie node's raw bytes by hash.
func ReadStateNode(db ethdb.KeyValueReader, hash []byte) ([]byte, error) {
	data, err := db.Get(stateNodeKey(hash))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	return data, err
}

// HasStateNode reports whether a trie node is already persisted, the check
// the state scheduler uses to decide whether a child reference still needs
// to be fetched.
func HasStateNode(db ethdb.KeyValueReader, hash []byte) (bool, error) {
	return db.Has(stateNodeKey(hash))
}

// WriteCode persists contract bytecode under its keccak256 hash.
func WriteCode(db ethdb.KeyValueWriter, hash, code []byte) error {
	return db.Put(codeKey(hash), code)
}

// ReadCode loads contract bytecode by hash.
func ReadCode(db ethdb.KeyValueReader, hash []byte) ([]byte, error) {
	data, err := db.Get(codeKey(hash))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	return data, err
}

// HasCode reports whether code is already persisted.
func HasCode(db ethdb.KeyValueReader, hash []byte) (bool, error) {
	return db.Has(codeKey(hash))
}

// WriteAppState stores an opaque blob on behalf of the external executor
// collaborator (account/contract state this module does not interpret).
func WriteAppState(db ethdb.KeyValueWriter, key, value []byte) error {
	return db.Put(appStateKey(key), value)
}

// ReadAppState loads a previously stored app-state blob.
func ReadAppState(db ethdb.KeyValueReader, key []byte) ([]byte, error) {
	data, err := db.Get(appStateKey(key))
	if err == ethdb.ErrNotFound {
		return nil, nil
	}
	return data, err
}
