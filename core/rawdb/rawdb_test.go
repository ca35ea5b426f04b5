package rawdb_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/ethdb"
)

func testHeader(number int64) *types.Header {
	return &types.Header{
		Difficulty: big.NewInt(131072),
		Number:     big.NewInt(number),
		GasLimit:   8_000_000,
		Timestamp:  1000,
		ExtraData:  []byte("x"),
	}
}

func TestHeaderRoundTripAndCanonicalIndex(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	h := testHeader(42)
	hash := h.Hash()

	require.NoError(t, rawdb.WriteHeader(db, h))
	require.NoError(t, rawdb.WriteCanonicalHash(db, hash, 42))

	got, err := rawdb.ReadHeader(db, 42, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, hash, got.Hash())

	canon, err := rawdb.ReadCanonicalHash(db, 42)
	require.NoError(t, err)
	require.Equal(t, hash, canon)

	num, ok, err := rawdb.ReadHeaderNumber(db, hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), num)
}

func TestBodyRoundTrip(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	body := &types.Body{
		Ommers: []*types.Header{testHeader(41)},
	}
	require.NoError(t, rawdb.WriteBody(db, 42, common.Hash{1}, body))

	got, err := rawdb.ReadBody(db, 42, common.Hash{1})
	require.NoError(t, err)
	require.Len(t, got.Ommers, 1)
	require.Equal(t, testHeader(41).Hash(), got.Ommers[0].Hash())
}

func TestReceiptsRoundTripPreAndPostByzantium(t *testing.T) {
	db := ethdb.NewMemoryDatabase()

	pre := []*types.Receipt{{PostState: []byte{9}, CumulativeGasUsed: 100, BlockNumber: 10}}
	require.NoError(t, rawdb.WriteReceipts(db, 10, common.Hash{2}, pre))
	gotPre, err := rawdb.ReadReceipts(db, 10, common.Hash{2})
	require.NoError(t, err)
	require.Len(t, gotPre, 1)
	require.Equal(t, []byte{9}, gotPre[0].PostState)

	post := []*types.Receipt{{Status: 1, CumulativeGasUsed: 200, BlockNumber: types.ByzantiumBlockNumber}}
	require.NoError(t, rawdb.WriteReceipts(db, types.ByzantiumBlockNumber, common.Hash{3}, post))
	gotPost, err := rawdb.ReadReceipts(db, types.ByzantiumBlockNumber, common.Hash{3})
	require.NoError(t, err)
	require.Len(t, gotPost, 1)
	require.EqualValues(t, 1, gotPost[0].Status)
}

func TestChainWeightRoundTrip(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	w := types.NewChainWeight(3, uint256.NewInt(999))
	require.NoError(t, rawdb.WriteChainWeight(db, 5, common.Hash{4}, w))

	got, ok, err := rawdb.ReadChainWeight(db, 5, common.Hash{4})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, got.Cmp(w))
}

func TestSyncStateRoundTripWithNilPivot(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	state := &types.SyncState{
		SafeDownloadTarget: 100,
		BlockBodiesQueue:   []common.Hash{{1}, {2}},
	}
	require.NoError(t, rawdb.WriteSyncState(db, state))

	got, err := rawdb.ReadSyncState(db)
	require.NoError(t, err)
	require.Nil(t, got.Pivot)
	require.Equal(t, uint64(100), got.SafeDownloadTarget)
	require.Len(t, got.BlockBodiesQueue, 2)
}

func TestSyncStateRoundTripWithPivot(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	pivot := testHeader(7)
	state := &types.SyncState{Pivot: pivot, TotalNodesCount: 10, StateSyncFinished: true}
	require.NoError(t, rawdb.WriteSyncState(db, state))

	got, err := rawdb.ReadSyncState(db)
	require.NoError(t, err)
	require.NotNil(t, got.Pivot)
	require.Equal(t, pivot.Hash(), got.Pivot.Hash())
	require.True(t, got.StateSyncFinished)
}

func TestStateNodeAndCodeAccessors(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	require.NoError(t, rawdb.WriteStateNode(db, []byte("hash1"), []byte("node-bytes")))
	ok, err := rawdb.HasStateNode(db, []byte("hash1"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, rawdb.WriteCode(db, []byte("codehash"), []byte("bytecode")))
	code, err := rawdb.ReadCode(db, []byte("codehash"))
	require.NoError(t, err)
	require.Equal(t, []byte("bytecode"), code)
}

func TestTxLookupEntries(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	txHash := common.Hash{5}
	require.NoError(t, rawdb.WriteTxLookupEntries(db, 12, common.Hash{6}, []common.Hash{txHash}))

	entry, err := rawdb.ReadTxLookupEntry(db, txHash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, uint64(12), entry.BlockNumber)

	require.NoError(t, rawdb.DeleteTxLookupEntries(db, []common.Hash{txHash}))
	entry, err = rawdb.ReadTxLookupEntry(db, txHash)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestHeadBlockHash(t *testing.T) {
	db := ethdb.NewMemoryDatabase()
	zero, err := rawdb.ReadHeadBlockHash(db)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	require.NoError(t, rawdb.WriteHeadBlockHash(db, common.Hash{7}))
	got, err := rawdb.ReadHeadBlockHash(db)
	require.NoError(t, err)
	require.Equal(t, common.Hash{7}, got)
}
