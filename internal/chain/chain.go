// Package chain splits the teacher's god-object Blockchain (referenced by
// nearly every sync component) into three narrow capabilities per Design
// Notes §9: a cheaply-cloned read snapshot, a typed writer that only accepts
// atomic batches, and a single atomic best-block cache. FastSync,
// BlockImporter and the state scheduler also hold an ethdb.Database directly
// (sync-state persistence and state-node storage go through it).
package chain

import (
	"errors"
	"sync/atomic"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/ethdb"
)

// ErrUnknownBlock is returned by Snapshot lookups that miss the store.
var ErrUnknownBlock = errors.New("chain: unknown block")

// HeadPointer is the single atomic cell shadowing the persisted best-block
// hash, per §5's shared-resource policy: readers consult it instead of the
// store so the common path never blocks on disk, and it is always >= the
// stored value (the writer updates the store first, the cache second).
type HeadPointer struct {
	v atomic.Value // common.Hash
}

// NewHeadPointer returns a HeadPointer seeded with hash (typically whatever
// rawdb.ReadHeadBlockHash returns at startup).
func NewHeadPointer(hash common.Hash) *HeadPointer {
	hp := &HeadPointer{}
	hp.v.Store(hash)
	return hp
}

// Get returns the current best-block hash.
func (hp *HeadPointer) Get() common.Hash {
	h, _ := hp.v.Load().(common.Hash)
	return h
}

// set is called only by Writer.Commit, after the persisted pointer has been
// updated — never directly by sync components.
func (hp *HeadPointer) set(hash common.Hash) { hp.v.Store(hash) }

// Snapshot is a read-only, cheaply-copyable view over the persisted chain.
// It holds no mutable state of its own beyond the shared db handle and head
// pointer, so passing it by value to every component is safe.
type Snapshot struct {
	db   ethdb.Database
	head *HeadPointer
}

// NewSnapshot builds a Snapshot over db, sharing head with whatever Writer
// is committing to the same db.
func NewSnapshot(db ethdb.Database, head *HeadPointer) Snapshot {
	return Snapshot{db: db, head: head}
}

// HeadHash returns the best-block hash from the in-memory cache.
func (s Snapshot) HeadHash() common.Hash { return s.head.Get() }

// HeadHeader returns the header of the current best block.
func (s Snapshot) HeadHeader() (*types.Header, error) {
	hash := s.head.Get()
	if hash.IsZero() {
		return nil, ErrUnknownBlock
	}
	number, ok, err := rawdb.ReadHeaderNumber(s.db, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownBlock
	}
	return s.HeaderByHash(number, hash)
}

// HeaderByHash loads the header at (number, hash).
func (s Snapshot) HeaderByHash(number uint64, hash common.Hash) (*types.Header, error) {
	h, err := rawdb.ReadHeader(s.db, number, hash)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrUnknownBlock
	}
	return h, nil
}

// HeaderByNumber resolves number through the canonical index, then loads it.
func (s Snapshot) HeaderByNumber(number uint64) (*types.Header, error) {
	hash, err := rawdb.ReadCanonicalHash(s.db, number)
	if err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, ErrUnknownBlock
	}
	return s.HeaderByHash(number, hash)
}

// BlockByHash loads a full block (header + body) at (number, hash).
func (s Snapshot) BlockByHash(number uint64, hash common.Hash) (*types.Block, error) {
	header, err := s.HeaderByHash(number, hash)
	if err != nil {
		return nil, err
	}
	body, err := rawdb.ReadBody(s.db, number, hash)
	if err != nil {
		return nil, err
	}
	return types.NewBlock(header, body), nil
}

// CanonicalHash returns the canonical hash at number, the zero hash if none.
func (s Snapshot) CanonicalHash(number uint64) (common.Hash, error) {
	return rawdb.ReadCanonicalHash(s.db, number)
}

// HeaderNumber returns the number indexed for hash, and whether it exists.
func (s Snapshot) HeaderNumber(hash common.Hash) (uint64, bool, error) {
	return rawdb.ReadHeaderNumber(s.db, hash)
}

// ChainWeight returns the accumulated weight through (number, hash).
func (s Snapshot) ChainWeight(number uint64, hash common.Hash) (types.ChainWeight, bool, error) {
	return rawdb.ReadChainWeight(s.db, number, hash)
}

// HasHeader reports whether a header is stored at (number, hash), without
// the ErrUnknownBlock plumbing HeaderByHash carries — branch resolution
// checks ancestry this way far more often than it reads content.
func (s Snapshot) HasHeader(number uint64, hash common.Hash) (bool, error) {
	h, err := rawdb.ReadHeader(s.db, number, hash)
	return h != nil, err
}

// Batch is a typed accumulator of writes the Writer will commit atomically.
// It never exposes the underlying ethdb.Batch, so a component cannot slip
// an arbitrary key into the store outside the namespaces rawdb defines.
type Batch struct {
	raw      ethdb.Batch
	headHash common.Hash
	haveHead bool
}

// PutHeader stages a header write plus its canonical-index entry.
func (b *Batch) PutHeader(h *types.Header) error {
	if err := rawdb.WriteHeader(b.raw, h); err != nil {
		return err
	}
	return rawdb.WriteCanonicalHash(b.raw, h.Hash(), h.NumberU64())
}

// PutBody stages a block body write.
func (b *Batch) PutBody(number uint64, hash common.Hash, body *types.Body) error {
	return rawdb.WriteBody(b.raw, number, hash, body)
}

// PutReceipts stages a receipt-list write.
func (b *Batch) PutReceipts(number uint64, hash common.Hash, receipts []*types.Receipt) error {
	return rawdb.WriteReceipts(b.raw, number, hash, receipts)
}

// PutChainWeight stages a ChainWeight write.
func (b *Batch) PutChainWeight(number uint64, hash common.Hash, w types.ChainWeight) error {
	return rawdb.WriteChainWeight(b.raw, number, hash, w)
}

// DeleteCanonical removes a number from the canonical index — used when a
// reorg's old suffix is rolled back. Headers/bodies/receipts themselves are
// left in place (they remain addressable by hash for as long as anything
// still references them); only the number->hash index moves.
func (b *Batch) DeleteCanonical(number uint64) error {
	return rawdb.DeleteCanonicalHash(b.raw, number)
}

// SetHead stages the new best-block hash for this batch; per the
// reorg-atomicity invariant it is applied last, after Commit persists the
// rest of the batch.
func (b *Batch) SetHead(hash common.Hash) {
	b.headHash = hash
	b.haveHead = true
}

// ValueSize reports the batch's pending byte size, for the caller's own
// flush-threshold policy (mirrors ethdb.Batch.ValueSize).
func (b *Batch) ValueSize() int { return b.raw.ValueSize() }

// Writer is the sole component permitted to mutate the persisted chain.
// FastSync and BlockImporter each hold one; PeerPool,
// PivotSelector, BlockFetcher and BranchResolver hold only a Snapshot.
type Writer struct {
	db   ethdb.Database
	head *HeadPointer
}

// NewWriter builds a Writer over db, sharing head with any Snapshot reading
// the same database.
func NewWriter(db ethdb.Database, head *HeadPointer) *Writer {
	return &Writer{db: db, head: head}
}

// NewBatch starts a fresh atomic batch.
func (w *Writer) NewBatch() *Batch {
	return &Batch{raw: w.db.NewBatch()}
}

// Commit persists everything staged in b in one atomic write, then — only
// once that write has succeeded — advances the in-memory head pointer and
// persists it, satisfying "best-block pointer update is the last write of
// any commit batch".
func (w *Writer) Commit(b *Batch) error {
	if err := b.raw.Write(); err != nil {
		return err
	}
	if b.haveHead {
		if err := rawdb.WriteHeadBlockHash(w.db, b.headHash); err != nil {
			return err
		}
		w.head.set(b.headHash)
	}
	return nil
}

// LoadHeadPointer reads the persisted best-block hash, for startup.
func LoadHeadPointer(db ethdb.Database) (*HeadPointer, error) {
	hash, err := rawdb.ReadHeadBlockHash(db)
	if err != nil {
		return nil, err
	}
	return NewHeadPointer(hash), nil
}
