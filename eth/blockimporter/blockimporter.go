// Package blockimporter implements §4.6's BlockImporter: pulls blocks from
// the fetcher, executes them via an external executor, commits them to the
// chain, and handles reorgs and missing-state recovery. Reorg decisions are
// delegated entirely to eth/branch.Resolver; commits go through
// internal/chain.Writer so the reorg-atomicity invariant (displaced-suffix
// removal and new-suffix insertion land in one batch, best-block pointer
// last) is enforced in one place rather than re-implemented here. The
// outcome taxonomy and orphan-queue/ommers-pool shape are grounded on the
// teacher's eth/handler.go insertChain path, generalized from its
// single-chain-only reorg to §4.7's weight-compared branch decision.
package blockimporter

import (
	"errors"
	"time"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/eth/branch"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/internal/chain"
)

// MissingNodeError is returned by Executor when execution references a
// pruned-or-not-yet-downloaded trie node.
type MissingNodeError struct {
	Hash common.Hash
}

func (e *MissingNodeError) Error() string { return "blockimporter: missing state node " + e.Hash.String() }

// Executor runs a block's transactions against the state the chain commits
// to, external to this package per §2.6.
type Executor interface {
	Execute(block *types.Block) ([]*types.Receipt, error)
}

// PendingPool is the transaction pool fed by import outcomes.
type PendingPool interface {
	EvictIncluded(txs []*types.SignedTransaction)
	Return(txs []*types.SignedTransaction)
}

// OmmersPool collects headers of blocks that lost a race to be canonical,
// so a later block can reference them as ommers.
type OmmersPool interface {
	Add(h *types.Header)
}

// Broadcaster announces a newly-canonical block to peers.
type Broadcaster interface {
	BroadcastBlock(block *types.Block, weight types.ChainWeight)
}

// blacklistTierLong mirrors eth/peerpool.BlacklistTierLong: a failed
// import or invalid branch is always bad data, never transient.
const blacklistTierLong = 10 * time.Minute

// Blacklister reports a misbehaving peer, matching eth/peerpool.Pool.
type Blacklister interface {
	Blacklist(peerID string, duration time.Duration, reason error)
}

// StateNodeFetcher requests a single missing trie node on demand — normally
// backed by eth/blockfetcher.Fetcher.FetchStateNode.
type StateNodeFetcher interface {
	FetchStateNode(hash common.Hash) ([]byte, error)
}

// Outcome enumerates §4.6's import results.
type Outcome int

const (
	ImportedToTop Outcome = iota
	Enqueued
	Duplicate
	ChainReorganised
	UnknownParent
	Failed
)

func (o Outcome) String() string {
	switch o {
	case ImportedToTop:
		return "ImportedToTop"
	case Enqueued:
		return "Enqueued"
	case Duplicate:
		return "Duplicate"
	case ChainReorganised:
		return "ChainReorganised"
	case UnknownParent:
		return "UnknownParent"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Result is the outcome of one Import call.
type Result struct {
	Outcome   Outcome
	Reason    error
	OldBranch []*types.Header // populated only for ChainReorganised
	NewBranch []*types.Header
	OldWeight types.ChainWeight
	NewWeight types.ChainWeight
}

// Config carries the tunables §4.6 names.
type Config struct {
	BranchResolutionRequestSize int
	RedownloadMissingStateNodes bool
	MaxMissingNodeRetries       int
}

// Importer drives block execution and canonical-chain maintenance.
type Importer struct {
	writer   *chain.Writer
	snap     chain.Snapshot
	resolver *branch.Resolver
	executor Executor
	stateDB  ethdb.Database

	pending     PendingPool
	ommers      OmmersPool
	broadcaster Broadcaster
	nodeFetcher StateNodeFetcher

	cfg Config

	// queue holds orphaned blocks keyed by the parent hash they're waiting
	// on, per §4.6's "store in BlockQueue" Enqueued outcome.
	queue map[common.Hash][]*types.Block

	importing           bool
	resolvingBranchFrom *uint64
}

// New builds an Importer. nodeFetcher may be nil, in which case
// RedownloadMissingStateNodes recovery is skipped and MissingNodeError
// always surfaces as a Failed outcome. stateDB receives recovered trie
// nodes fetched on a MissingNodeError; it may be nil only alongside a nil
// nodeFetcher.
func New(writer *chain.Writer, snap chain.Snapshot, resolver *branch.Resolver, executor Executor, pending PendingPool, ommers OmmersPool, broadcaster Broadcaster, nodeFetcher StateNodeFetcher, stateDB ethdb.Database, cfg Config) *Importer {
	if cfg.MaxMissingNodeRetries <= 0 {
		cfg.MaxMissingNodeRetries = 3
	}
	return &Importer{
		writer:      writer,
		snap:        snap,
		resolver:    resolver,
		executor:    executor,
		pending:     pending,
		ommers:      ommers,
		broadcaster: broadcaster,
		nodeFetcher: nodeFetcher,
		stateDB:     stateDB,
		cfg:         cfg,
		queue:       make(map[common.Hash][]*types.Block),
	}
}

// Import implements §4.6's import(block) operation.
func (im *Importer) Import(block *types.Block, peerID string, bl Blacklister) (Result, error) {
	if im.importing {
		return Result{Outcome: Failed, Reason: errors.New("blockimporter: import already in progress")}, nil
	}
	im.importing = true
	defer func() { im.importing = false }()

	number := block.NumberU64()
	hash := block.Hash()

	if dup, err := im.isDuplicate(number, hash); err != nil {
		return Result{}, err
	} else if dup {
		return Result{Outcome: Duplicate}, nil
	}

	parentKnown, err := im.snap.HasHeader(number-1, block.Header.ParentHash)
	if err != nil {
		return Result{}, err
	}
	if !parentKnown {
		im.enqueueOrphan(block)
		im.ommers.Add(block.Header)
		return Result{Outcome: UnknownParent}, nil
	}

	if block.Header.ParentHash == im.snap.HeadHash() {
		return im.extendTop(block, peerID, bl)
	}
	return im.resolveBranch(block, peerID, bl)
}

func (im *Importer) isDuplicate(number uint64, hash common.Hash) (bool, error) {
	canonHash, err := im.snap.CanonicalHash(number)
	if err != nil {
		return false, err
	}
	if canonHash == hash {
		return true, nil
	}
	for _, orphans := range im.queue {
		for _, o := range orphans {
			if o.Hash() == hash {
				return true, nil
			}
		}
	}
	return false, nil
}

func (im *Importer) enqueueOrphan(block *types.Block) {
	parent := block.Header.ParentHash
	im.queue[parent] = append(im.queue[parent], block)
}

// extendTop executes block directly atop the canonical head.
func (im *Importer) extendTop(block *types.Block, peerID string, bl Blacklister) (Result, error) {
	receipts, err := im.executeWithRecovery(block)
	if err != nil {
		im.invalidate(block, peerID, err, bl)
		return Result{Outcome: Failed, Reason: err}, nil
	}

	parentWeight, _, err := im.snap.ChainWeight(block.NumberU64()-1, block.Header.ParentHash)
	if err != nil {
		return Result{}, err
	}
	weight := parentWeight.Add(block.Header, 0)

	b := im.writer.NewBatch()
	if err := b.PutHeader(block.Header); err != nil {
		return Result{}, err
	}
	if err := b.PutBody(block.NumberU64(), block.Hash(), block.Body); err != nil {
		return Result{}, err
	}
	if err := b.PutReceipts(block.NumberU64(), block.Hash(), receipts); err != nil {
		return Result{}, err
	}
	if err := b.PutChainWeight(block.NumberU64(), block.Hash(), weight); err != nil {
		return Result{}, err
	}
	b.SetHead(block.Hash())
	if err := im.writer.Commit(b); err != nil {
		return Result{}, err
	}

	im.pending.EvictIncluded(block.Transactions())
	im.promoteOrphansFor(block.Hash())
	im.broadcaster.BroadcastBlock(block, weight)
	im.resolvingBranchFrom = nil

	return Result{Outcome: ImportedToTop, NewWeight: weight}, nil
}

// resolveBranch handles a block whose parent is known but isn't the
// current head: a candidate extending or replacing a non-canonical branch.
func (im *Importer) resolveBranch(block *types.Block, peerID string, bl Blacklister) (Result, error) {
	res, err := im.resolver.Resolve([]*types.Header{block.Header})
	if err != nil {
		return Result{}, err
	}

	switch res.Outcome {
	case branch.InvalidBranch, branch.UnknownBranch:
		reason := errors.New("blockimporter: " + res.Outcome.String())
		im.invalidate(block, peerID, reason, bl)
		return Result{Outcome: Failed, Reason: reason}, nil

	case branch.NoChainSwitch:
		im.enqueueOrphan(block)
		im.ommers.Add(block.Header)
		return Result{Outcome: Enqueued, OldWeight: res.OldWeight, NewWeight: res.NewWeight}, nil

	case branch.NewBetterBranch:
		return im.applyReorg(block, res, peerID, bl)

	default:
		return Result{Outcome: Failed, Reason: errors.New("blockimporter: unrecognized branch outcome")}, nil
	}
}

// applyReorg executes the new block, rolls back the displaced suffix, and
// commits both in one batch so the reorg is atomic.
func (im *Importer) applyReorg(block *types.Block, res branch.Result, peerID string, bl Blacklister) (Result, error) {
	receipts, err := im.executeWithRecovery(block)
	if err != nil {
		im.invalidate(block, peerID, err, bl)
		return Result{Outcome: Failed, Reason: err}, nil
	}

	b := im.writer.NewBatch()
	for _, h := range res.DisplacedSuffix {
		if err := b.DeleteCanonical(h.NumberU64()); err != nil {
			return Result{}, err
		}
	}
	if err := b.PutHeader(block.Header); err != nil {
		return Result{}, err
	}
	if err := b.PutBody(block.NumberU64(), block.Hash(), block.Body); err != nil {
		return Result{}, err
	}
	if err := b.PutReceipts(block.NumberU64(), block.Hash(), receipts); err != nil {
		return Result{}, err
	}
	if err := b.PutChainWeight(block.NumberU64(), block.Hash(), res.NewWeight); err != nil {
		return Result{}, err
	}
	b.SetHead(block.Hash())
	if err := im.writer.Commit(b); err != nil {
		return Result{}, err
	}

	var discarded []*types.SignedTransaction
	for _, h := range res.DisplacedSuffix {
		old, err := im.snap.BlockByHash(h.NumberU64(), h.Hash())
		if err == nil {
			discarded = append(discarded, old.Transactions()...)
		}
		im.ommers.Add(h)
	}
	im.pending.Return(discarded)
	im.pending.EvictIncluded(block.Transactions())
	im.broadcaster.BroadcastBlock(block, res.NewWeight)

	branchFrom := block.NumberU64() - uint64(len(res.DisplacedSuffix))
	im.resolvingBranchFrom = &branchFrom

	return Result{
		Outcome:   ChainReorganised,
		OldBranch: res.DisplacedSuffix,
		NewBranch: []*types.Header{block.Header},
		OldWeight: res.OldWeight,
		NewWeight: res.NewWeight,
	}, nil
}

// promoteOrphansFor moves orphans keyed on parent into the importable set
// by returning them to the caller; the caller (the sync orchestrator) is
// expected to re-Import each one now that its parent exists. The method
// hands the slice back and forgets it so it is never imported twice.
func (im *Importer) promoteOrphansFor(parent common.Hash) []*types.Block {
	children := im.queue[parent]
	delete(im.queue, parent)
	return children
}

// invalidate blacklists the originating peer and drops the orphans queued
// directly on the failing block (their own queued children stay queued),
// per §4.6's Failed outcome.
func (im *Importer) invalidate(block *types.Block, peerID string, reason error, bl Blacklister) {
	if bl != nil && peerID != "" {
		bl.Blacklist(peerID, blacklistTierLong, reason)
	}
	delete(im.queue, block.Hash())
}

// executeWithRecovery runs the executor, and on a MissingNodeError fetches
// the missing node, writes it into the state-node store keyed by its hash
// (no block number is recorded with it), and retries, bounded by cfg.MaxMissingNodeRetries, per
// §4.6's redownloadMissingStateNodes policy.
func (im *Importer) executeWithRecovery(block *types.Block) ([]*types.Receipt, error) {
	var lastErr error
	for attempt := 0; attempt <= im.cfg.MaxMissingNodeRetries; attempt++ {
		receipts, err := im.executor.Execute(block)
		if err == nil {
			return receipts, nil
		}
		var mn *MissingNodeError
		if !errors.As(err, &mn) || !im.cfg.RedownloadMissingStateNodes || im.nodeFetcher == nil || im.stateDB == nil {
			return nil, err
		}
		node, ferr := im.nodeFetcher.FetchStateNode(mn.Hash)
		if ferr != nil {
			return nil, ferr
		}
		if werr := rawdb.WriteStateNode(im.stateDB, mn.Hash.Bytes(), node); werr != nil {
			return nil, werr
		}
		lastErr = err
	}
	return nil, lastErr
}

// PendingOrphans exposes the current orphan queue depth for a given parent,
// used by tests and by the sync orchestrator deciding whether to probe
// backward for it.
func (im *Importer) PendingOrphans(parent common.Hash) int {
	return len(im.queue[parent])
}
