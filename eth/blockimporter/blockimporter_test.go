package blockimporter

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/eth/branch"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/internal/chain"
)

func header(number int64, parent common.Hash, difficulty int64, extra byte) *types.Header {
	return &types.Header{
		ParentHash: parent,
		Difficulty: big.NewInt(difficulty),
		Number:     big.NewInt(number),
		GasLimit:   8_000_000,
		Timestamp:  uint64(number),
		ExtraData:  []byte{extra},
	}
}

// buildCanonical mirrors eth/branch's test helper: a straight-line chain of
// n blocks atop genesis, ready for an Importer to extend or fork from.
func buildCanonical(t *testing.T, n int, difficulty int64) (*chain.Writer, chain.Snapshot, []*types.Header, ethdb.Database) {
	t.Helper()
	db := ethdb.NewMemoryDatabase()
	head, err := chain.LoadHeadPointer(db)
	if err != nil {
		t.Fatalf("LoadHeadPointer: %v", err)
	}
	w := chain.NewWriter(db, head)
	snap := chain.NewSnapshot(db, head)

	genesis := header(0, common.Hash{}, 0, 0)
	b := w.NewBatch()
	if err := b.PutHeader(genesis); err != nil {
		t.Fatalf("PutHeader genesis: %v", err)
	}
	if err := b.PutBody(0, genesis.Hash(), &types.Body{}); err != nil {
		t.Fatalf("PutBody genesis: %v", err)
	}
	if err := b.PutChainWeight(0, genesis.Hash(), types.NewChainWeight(0, uint256.NewInt(0))); err != nil {
		t.Fatalf("PutChainWeight genesis: %v", err)
	}
	b.SetHead(genesis.Hash())
	if err := w.Commit(b); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}

	headers := []*types.Header{genesis}
	weight := types.NewChainWeight(0, uint256.NewInt(0))
	parentHash := genesis.Hash()
	for i := 1; i <= n; i++ {
		h := header(int64(i), parentHash, difficulty, 0)
		weight = weight.Add(h, 0)
		b := w.NewBatch()
		if err := b.PutHeader(h); err != nil {
			t.Fatalf("PutHeader %d: %v", i, err)
		}
		if err := b.PutBody(h.NumberU64(), h.Hash(), &types.Body{}); err != nil {
			t.Fatalf("PutBody %d: %v", i, err)
		}
		if err := b.PutChainWeight(h.NumberU64(), h.Hash(), weight); err != nil {
			t.Fatalf("PutChainWeight %d: %v", i, err)
		}
		b.SetHead(h.Hash())
		if err := w.Commit(b); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		headers = append(headers, h)
		parentHash = h.Hash()
	}
	return w, snap, headers, db
}

type stubExecutor struct {
	err error
}

func (s *stubExecutor) Execute(block *types.Block) ([]*types.Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

type recordingPool struct {
	evicted []*types.SignedTransaction
	returned []*types.SignedTransaction
}

func (p *recordingPool) EvictIncluded(txs []*types.SignedTransaction) { p.evicted = append(p.evicted, txs...) }
func (p *recordingPool) Return(txs []*types.SignedTransaction)        { p.returned = append(p.returned, txs...) }

type recordingOmmers struct{ added []*types.Header }

func (o *recordingOmmers) Add(h *types.Header) { o.added = append(o.added, h) }

type recordingBroadcaster struct {
	blocks []*types.Block
}

func (b *recordingBroadcaster) BroadcastBlock(block *types.Block, weight types.ChainWeight) {
	b.blocks = append(b.blocks, block)
}

type recordingBlacklister struct{ blacklisted []string }

func (r *recordingBlacklister) Blacklist(peerID string, duration time.Duration, reason error) {
	r.blacklisted = append(r.blacklisted, peerID)
}

func newImporter(snap chain.Snapshot, w *chain.Writer, executor Executor) (*Importer, *recordingPool, *recordingOmmers, *recordingBroadcaster) {
	pool := &recordingPool{}
	ommers := &recordingOmmers{}
	bc := &recordingBroadcaster{}
	im := New(w, snap, branch.New(snap), executor, pool, ommers, bc, nil, nil, Config{})
	return im, pool, ommers, bc
}

func TestImportExtendsTopOnDirectChild(t *testing.T) {
	w, snap, headers, _ := buildCanonical(t, 2, 10)
	im, pool, _, bc := newImporter(snap, w, &stubExecutor{})
	tip := headers[len(headers)-1]

	next := types.NewBlock(header(tip.NumberU64()+1, tip.Hash(), 10, 5), &types.Body{})
	res, err := im.Import(next, "peer1", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != ImportedToTop {
		t.Fatalf("expected ImportedToTop, got %v", res.Outcome)
	}
	if snap.HeadHash() != next.Hash() {
		t.Fatalf("expected head advanced to new block")
	}
	if len(bc.blocks) != 1 {
		t.Fatalf("expected broadcast of new block")
	}
	_ = pool
}

func TestImportDuplicateCanonicalBlock(t *testing.T) {
	w, snap, headers, _ := buildCanonical(t, 2, 10)
	im, _, _, _ := newImporter(snap, w, &stubExecutor{})

	dup := types.NewBlock(headers[1], &types.Body{})
	res, err := im.Import(dup, "peer1", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != Duplicate {
		t.Fatalf("expected Duplicate, got %v", res.Outcome)
	}
}

func TestImportUnknownParentEnqueuesOrphan(t *testing.T) {
	w, snap, _, _ := buildCanonical(t, 1, 10)
	im, _, ommers, _ := newImporter(snap, w, &stubExecutor{})

	orphan := types.NewBlock(header(99, common.BytesToHash([]byte("ghost")), 10, 1), &types.Body{})
	res, err := im.Import(orphan, "peer1", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != UnknownParent {
		t.Fatalf("expected UnknownParent, got %v", res.Outcome)
	}
	if im.PendingOrphans(orphan.Header.ParentHash) != 1 {
		t.Fatalf("expected orphan queued under its parent hash")
	}
	if len(ommers.added) != 1 {
		t.Fatalf("expected orphan header added to ommers pool")
	}
}

func TestImportFailedExecutionBlacklistsPeer(t *testing.T) {
	w, snap, headers, _ := buildCanonical(t, 1, 10)
	im, _, _, _ := newImporter(snap, w, &stubExecutor{err: errors.New("bad state transition")})
	tip := headers[len(headers)-1]

	bad := types.NewBlock(header(tip.NumberU64()+1, tip.Hash(), 10, 1), &types.Body{})
	bl := &recordingBlacklister{}
	res, err := im.Import(bad, "badpeer", bl)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != Failed {
		t.Fatalf("expected Failed, got %v", res.Outcome)
	}
	if len(bl.blacklisted) != 1 || bl.blacklisted[0] != "badpeer" {
		t.Fatalf("expected badpeer blacklisted, got %v", bl.blacklisted)
	}
}

func TestImportHeavierForkReorganises(t *testing.T) {
	w, snap, headers, _ := buildCanonical(t, 3, 10)
	im, pool, _, _ := newImporter(snap, w, &stubExecutor{})

	ancestor := headers[1] // fork at height 1, displacing heights 2 and 3
	// give a displaced block a transaction for the reorg to hand back
	displacedTx := &types.SignedTransaction{Nonce: 1, GasPrice: big.NewInt(1), GasLimit: 21000, Value: big.NewInt(1), V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(1)}
	b := w.NewBatch()
	if err := b.PutBody(headers[2].NumberU64(), headers[2].Hash(), &types.Body{Transactions: []*types.SignedTransaction{displacedTx}}); err != nil {
		t.Fatalf("PutBody: %v", err)
	}
	if err := w.Commit(b); err != nil {
		t.Fatalf("commit body: %v", err)
	}
	c1 :=types.NewBlock(header(2, ancestor.Hash(), 100, 11), &types.Body{})
	res1, err := im.Import(c1, "peer1", nil)
	if err != nil {
		t.Fatalf("Import c1: %v", err)
	}
	// c1 alone outweighs the 2-block canonical suffix it displaces
	// (difficulty 100 > 10+10), so importing it reorganises the chain.
	if res1.Outcome != ChainReorganised {
		t.Fatalf("expected ChainReorganised for c1, got %v (%v)", res1.Outcome, res1.Reason)
	}
	if snap.HeadHash() != c1.Hash() {
		t.Fatalf("expected head switched to c1")
	}
	if len(pool.returned) == 0 {
		t.Fatalf("expected displaced transactions returned to pending pool")
	}
}

func TestImportMissingStateNodeRecoversViaFetcher(t *testing.T) {
	w, snap, headers, db := buildCanonical(t, 1, 10)
	tip := headers[len(headers)-1]
	missing := common.BytesToHash([]byte("missing-node"))

	attempts := 0
	executor := executorFunc(func(block *types.Block) ([]*types.Receipt, error) {
		attempts++
		if attempts == 1 {
			return nil, &MissingNodeError{Hash: missing}
		}
		return nil, nil
	})
	fetcher := &fetcherStub{}
	pool := &recordingPool{}
	ommers := &recordingOmmers{}
	bc := &recordingBroadcaster{}
	im := New(w, snap, branch.New(snap), executor, pool, ommers, bc, fetcher, db, Config{RedownloadMissingStateNodes: true, MaxMissingNodeRetries: 2})

	next := types.NewBlock(header(tip.NumberU64()+1, tip.Hash(), 10, 1), &types.Body{})
	res, err := im.Import(next, "peer1", nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Outcome != ImportedToTop {
		t.Fatalf("expected ImportedToTop after recovery, got %v (%v)", res.Outcome, res.Reason)
	}
	if fetcher.requested != missing {
		t.Fatalf("expected fetcher asked for the missing node")
	}
	stored, err := rawdb.ReadStateNode(db, missing.Bytes())
	if err != nil {
		t.Fatalf("ReadStateNode: %v", err)
	}
	if string(stored) != "node-bytes" {
		t.Fatalf("expected recovered node persisted, got %q", stored)
	}
}

type executorFunc func(block *types.Block) ([]*types.Receipt, error)

func (f executorFunc) Execute(block *types.Block) ([]*types.Receipt, error) { return f(block) }

type fetcherStub struct{ requested common.Hash }

func (f *fetcherStub) FetchStateNode(hash common.Hash) ([]byte, error) {
	f.requested = hash
	return []byte("node-bytes"), nil
}
