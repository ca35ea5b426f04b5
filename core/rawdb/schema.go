// Package rawdb implements the keyed namespaces persisted over a plain
// ethdb.Database: headers, bodies, receipts, total difficulty, the
// number<->hash canonical index, transaction location, state trie nodes,
// contract code, and fast-sync progress. Every writer here takes an
// ethdb.KeyValueWriter, so a caller can pass one ethdb.Batch to several of
// them and combine these namespaces into one atomic commit (the reorg-atomicity and SyncState-persistence invariants
// both depend on this).
package rawdb

import "encoding/binary"

var (
	headerPrefix       = []byte("h") // headerPrefix + num (8 bytes big-endian) + hash -> header rlp
	headerHashSuffix   = []byte("n") // headerPrefix + num + headerHashSuffix -> hash
	headerNumberPrefix = []byte("H") // headerNumberPrefix + hash -> num (8 bytes big-endian)

	bodyPrefix     = []byte("b") // bodyPrefix + num + hash -> body rlp
	receiptsPrefix = []byte("r") // receiptsPrefix + num + hash -> receipts rlp
	tdPrefix       = []byte("t") // tdPrefix + num + hash -> td rlp

	headBlockKey = []byte("LastBlock")

	txLookupPrefix = []byte("l") // txLookupPrefix + txHash -> (blockHash, blockNumber, index) rlp

	stateNodePrefix = []byte("s") // stateNodePrefix + nodeHash -> node bytes
	codePrefix      = []byte("c") // codePrefix + codeHash -> contract code bytes

	appStatePrefix = []byte("a") // appStatePrefix + key -> external collaborator's opaque state blob

	fastSyncStateKey = []byte("FastSyncState") // -> SyncState rlp
)

func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func headerKey(number uint64, hash []byte) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...), hash...)
}

func headerHashKey(number uint64) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...), headerHashSuffix...)
}

func headerNumberKey(hash []byte) []byte {
	return append(append([]byte{}, headerNumberPrefix...), hash...)
}

func bodyKey(number uint64, hash []byte) []byte {
	return append(append(append([]byte{}, bodyPrefix...), encodeBlockNumber(number)...), hash...)
}

func receiptsKey(number uint64, hash []byte) []byte {
	return append(append(append([]byte{}, receiptsPrefix...), encodeBlockNumber(number)...), hash...)
}

func tdKey(number uint64, hash []byte) []byte {
	return append(append(append([]byte{}, tdPrefix...), encodeBlockNumber(number)...), hash...)
}

func txLookupKey(hash []byte) []byte {
	return append(append([]byte{}, txLookupPrefix...), hash...)
}

func stateNodeKey(hash []byte) []byte {
	return append(append([]byte{}, stateNodePrefix...), hash...)
}

func codeKey(hash []byte) []byte {
	return append(append([]byte{}, codePrefix...), hash...)
}

func appStateKey(key []byte) []byte {
	return append(append([]byte{}, appStatePrefix...), key...)
}
