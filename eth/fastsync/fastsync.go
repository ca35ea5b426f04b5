// Package fastsync implements §4.3's FastSync state machine: pick a pivot
// block, download headers/bodies/receipts/state up to it, validate only a
// sampled subset of intermediate headers in full, and hand off to regular
// import once the pivot's state trie is complete. The phase diagram
// (Idle -> SelectingPivot -> Running, with Running <-> UpdatingPivot for
// re-pivot and a retry edge back to SelectingPivot on failure) and the
// rewind-then-retry recovery policy are grounded on SilentCicero's
// downloader.go state machine and on A-Chain's skeleton.go re-pivot
// handling, generalized from geth's single eth1 pivot policy to the
// explicit K/N/X tunables §4.3 names.
package fastsync

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/eth/pivot"
	"github.com/coreetc/chainsync/eth/statesync"
	"github.com/coreetc/chainsync/eth/syncstatus"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/internal/chain"
	"github.com/coreetc/chainsync/internal/config"
)

// Phase enumerates §4.3's state machine positions.
type Phase int

const (
	Idle Phase = iota
	SelectingPivot
	Running
	UpdatingPivot
	Finished
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case SelectingPivot:
		return "SelectingPivot"
	case Running:
		return "Running"
	case UpdatingPivot:
		return "UpdatingPivot"
	case Finished:
		return "Finished"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// FailureKind classifies why a step failed, per §4.3's taxonomy.
type FailureKind int

const (
	ChainGap FailureKind = iota
	PeerMisbehavior
	TransientPeerError
	StorageError
	PivotUpdateExhausted
)

// blacklistTierLong mirrors eth/peerpool.BlacklistTierLong.
const blacklistTierLong = 10 * time.Minute

// ErrPivotUpdateExhausted is returned once re-pivot attempts exceed
// cfg.MaximumTargetUpdateFailures, per §4.3's fatal-abort case.
var ErrPivotUpdateExhausted = errors.New("fastsync: pivot update exhausted retry budget")

// ErrChainGap reports a detected discontinuity that forced a rewind.
var ErrChainGap = errors.New("fastsync: chain gap detected, rewound")

// Blacklister matches eth/peerpool.Pool.Blacklist's exact signature.
type Blacklister interface {
	Blacklist(peerID string, duration time.Duration, reason error)
}

// HeaderValidator performs the full PoW/difficulty/timestamp check §4.3
// requires for each sampled header and for every header within
// FastSyncBlockValidationX of the pivot. Full consensus
// validation has no in-repo engine (no consensus plugin ABI is in scope
// here), so it is always an external collaborator.
type HeaderValidator interface {
	ValidateHeader(h *types.Header) error
}

// BodyValidator checks a downloaded body against its header's
// TransactionsRoot/OmmersHash. Computing those roots requires trie
// construction, which trie/ deliberately does not implement (it only
// decodes/verifies proof nodes), so this too is external.
type BodyValidator interface {
	ValidateBody(header *types.Header, body *types.Body) error
}

// ReceiptValidator checks a downloaded receipt list against its header's
// ReceiptsRoot, for the same reason BodyValidator is external.
type ReceiptValidator interface {
	ValidateReceipts(header *types.Header, receipts []*types.Receipt) error
}

// HeaderRequester fetches a contiguous run of headers.
type HeaderRequester interface {
	RequestHeaders(peerID string, origin uint64, max int) ([]*types.Header, error)
}

// BodyRequester fetches bodies by hash, correlated by requestID so a
// response arriving after a re-pivot can be recognised as stale.
type BodyRequester interface {
	RequestBodies(requestID uuid.UUID, peerID string, hashes []common.Hash) (map[common.Hash]*types.Body, error)
}

// ReceiptRequester fetches receipt lists by hash.
type ReceiptRequester interface {
	RequestReceipts(requestID uuid.UUID, peerID string, hashes []common.Hash) (map[common.Hash][]*types.Receipt, error)
}

// PeerTips reports the live view of peer-advertised chain tips, feeding
// both pivot (re)selection and the staleness check.
type PeerTips interface {
	Tips() []pivot.PeerTip
}

// randUint64 is overridable in tests for deterministic validation-frequency
// sampling.
type randUint64 func(n uint64) uint64

func defaultRand(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return uint64(rand.Int63n(int64(n)))
}

// FastSync drives one fast-sync run to completion or fatal abort.
type FastSync struct {
	db      ethdb.Database
	writer  *chain.Writer
	snap    chain.Snapshot
	pivotSel *pivot.Selector
	status  *syncstatus.Tracker
	cfg     config.Config

	headerValidator  HeaderValidator
	bodyValidator    BodyValidator
	receiptValidator ReceiptValidator

	phase Phase
	state types.SyncState

	stateSched *statesync.Scheduler

	pivotUpdateFailures uint32
	randN               randUint64

	// persistence coalescing: dirty marks a pending snapshot that the
	// background persister has not yet flushed.
	dirty bool

	currentRequestID uuid.UUID
}

// Deps bundles FastSync's external collaborators; tunables come from
// internal/config.Config directly rather than being re-declared here.
type Deps struct {
	DB               ethdb.Database
	Writer           *chain.Writer
	Snapshot         chain.Snapshot
	PivotSelector    *pivot.Selector
	Status           *syncstatus.Tracker
	HeaderValidator  HeaderValidator
	BodyValidator    BodyValidator
	ReceiptValidator ReceiptValidator
}

// New builds a FastSync, resuming from any persisted SyncState found in db
// (the crash-recovery path: a restart never needs to start over).
func New(deps Deps, cfg config.Config) (*FastSync, error) {
	fs := &FastSync{
		db:               deps.DB,
		writer:           deps.Writer,
		snap:             deps.Snapshot,
		pivotSel:         deps.PivotSelector,
		status:           deps.Status,
		cfg:              cfg,
		headerValidator:  deps.HeaderValidator,
		bodyValidator:    deps.BodyValidator,
		receiptValidator: deps.ReceiptValidator,
		randN:            defaultRand,
	}
	persisted, err := rawdb.ReadSyncState(deps.DB)
	if err != nil {
		return nil, err
	}
	if persisted != nil {
		fs.state = *persisted
		if persisted.Pivot != nil {
			sched, err := statesync.New(deps.DB, persisted.Pivot.StateRoot, statesync.Config{
				MaxInflight:             cfg.MaxInflight,
				MemBatchThreshold:       cfg.MemBatchThreshold,
				MemBatchSizeBytes:       1 << 24,
				ResolvedMemoizationSize: 65536,
			})
			if err != nil {
				return nil, err
			}
			fs.stateSched = sched
			fs.phase = Running
		} else {
			fs.phase = SelectingPivot
		}
	} else {
		fs.phase = Idle
	}
	return fs, nil
}

// Phase reports the current state-machine position.
func (fs *FastSync) Phase() Phase { return fs.phase }

// Start transitions Idle -> SelectingPivot, the entry point of a fresh run.
func (fs *FastSync) Start() {
	if fs.phase != Idle {
		return
	}
	fs.phase = SelectingPivot
	if fs.status != nil {
		startingBlock := uint64(0)
		if head, err := fs.snap.HeadHeader(); err == nil {
			startingBlock = head.NumberU64()
		}
		fs.status.Start(startingBlock)
	}
}

// SelectPivot samples tips and, on success, seeds SyncState and moves to
// Running. A failure to converge is reported as TransientPeerError: the
// caller should retry SelectPivot again after its own backoff.
func (fs *FastSync) SelectPivot(tips []pivot.PeerTip) (FailureKind, error) {
	if fs.phase != SelectingPivot {
		return 0, nil
	}
	header, err := fs.pivotSel.SelectPivot(tips)
	if err != nil {
		return TransientPeerError, err
	}
	startingBlock := uint64(0)
	if head, err := fs.snap.HeadHeader(); err == nil {
		startingBlock = head.NumberU64()
	}
	fs.state = types.SyncState{
		Pivot:                    header,
		BestBlockHeaderNumber:    startingBlock,
		NextBlockToFullyValidate: 1,
	}
	sched, err := statesync.New(fs.db, header.StateRoot, statesync.Config{
		MaxInflight:             fs.cfg.MaxInflight,
		MemBatchThreshold:       fs.cfg.MemBatchThreshold,
		MemBatchSizeBytes:       1 << 24,
		ResolvedMemoizationSize: 65536,
	})
	if err != nil {
		return StorageError, err
	}
	fs.stateSched = sched
	fs.phase = Running
	fs.dirty = true
	return 0, nil
}

// shouldFullyValidate implements §4.3's sampling formula: every header is
// chain-link validated, but only a sampled subset gets full validation —
// next = lastFullyValidated + K/2 + rand(0..K), clamped so nothing within X
// of the pivot is ever skipped stochastically.
func (fs *FastSync) shouldFullyValidate(number uint64) bool {
	if fs.state.Pivot != nil && number+fs.cfg.FastSyncBlockValidationX >= fs.state.Pivot.NumberU64() {
		return true
	}
	return number >= fs.state.NextBlockToFullyValidate
}

func (fs *FastSync) advanceNextFullValidation(from uint64) {
	k := fs.cfg.K
	next := from + k/2 + fs.randN(k+1)
	if fs.state.Pivot != nil {
		limit := uint64(0)
		if fs.state.Pivot.NumberU64() > fs.cfg.FastSyncBlockValidationX {
			limit = fs.state.Pivot.NumberU64() - fs.cfg.FastSyncBlockValidationX
		}
		if next > limit {
			next = limit
		}
	}
	fs.state.NextBlockToFullyValidate = next
}

// ValidateHeaderChain walks headers in order, chain-linking every one and
// fully validating the sampled subset. Every header that passes validation
// (chain-linking and, where sampled, full validation) is persisted via the
// writer, including the prefix preceding a later failure; the failing header
// itself is not. On the first failure it reports the rewind-on-failure policy's
// parameters: the caller is expected to call RewindOnFailure with the
// offending header's number.
func (fs *FastSync) ValidateHeaderChain(parent *types.Header, headers []*types.Header) (int, error) {
	prev := parent
	wb := fs.writer.NewBatch()
	for i, h := range headers {
		if err := h.ValidateAgainstParent(prev); err != nil {
			if cerr := fs.writer.Commit(wb); cerr != nil {
				return i, cerr
			}
			return i, err
		}
		if fs.shouldFullyValidate(h.NumberU64()) {
			if fs.headerValidator != nil {
				if err := fs.headerValidator.ValidateHeader(h); err != nil {
					if cerr := fs.writer.Commit(wb); cerr != nil {
						return i, cerr
					}
					return i, err
				}
			}
			fs.advanceNextFullValidation(h.NumberU64())
		}
		if err := wb.PutHeader(h); err != nil {
			return i, err
		}
		prev = h
	}
	if err := fs.writer.Commit(wb); err != nil {
		return len(headers), err
	}
	return len(headers), nil
}

// RewindOnFailure implements §4.3's recovery policy: discard the last N
// blocks, blacklist the offending peer, and reset the download cursors.
// failingHeight >= pivot additionally triggers a re-pivot request, reported
// via the bool return.
func (fs *FastSync) RewindOnFailure(failingHeight uint64, peerID string, bl Blacklister) (needsRepivot bool) {
	n := fs.cfg.N
	if bl != nil && peerID != "" {
		bl.Blacklist(peerID, blacklistTierLong, ErrChainGap)
	}
	if failingHeight > n {
		fs.state.BestBlockHeaderNumber = failingHeight - n - 1
	} else {
		fs.state.BestBlockHeaderNumber = 0
	}
	if failingHeight > n-1 && n > 0 {
		fs.state.NextBlockToFullyValidate = failingHeight - n + 1
	} else {
		fs.state.NextBlockToFullyValidate = 1
	}
	fs.dirty = true
	if fs.state.Pivot != nil && failingHeight >= fs.state.Pivot.NumberU64() {
		return true
	}
	return false
}

// NeedsRepivot reports §4.3's staleness policy: the advertised tip has
// pulled far enough ahead of the current pivot that it is no longer worth
// finishing.
func (fs *FastSync) NeedsRepivot(currentPeerTip uint64) bool {
	if fs.state.Pivot == nil {
		return false
	}
	if currentPeerTip <= fs.state.Pivot.NumberU64() {
		return false
	}
	return currentPeerTip-fs.state.Pivot.NumberU64() > fs.cfg.MaxTargetDifference
}

// BeginRepivot transitions Running -> UpdatingPivot.
func (fs *FastSync) BeginRepivot() {
	if fs.phase != Running {
		return
	}
	fs.phase = UpdatingPivot
	fs.state.UpdatingPivotBlock = true
	fs.dirty = true
	fs.currentRequestID = uuid.New() // invalidates in-flight body/receipt responses
}

// CompleteRepivot finishes a re-pivot attempt. A candidate pivot older than
// the current one is rejected and counted against
// MaximumTargetUpdateFailures; exhausting that budget aborts the run.
func (fs *FastSync) CompleteRepivot(candidate *types.Header) (FailureKind, error) {
	if fs.phase != UpdatingPivot {
		return 0, nil
	}
	if fs.state.Pivot != nil && candidate.NumberU64() < fs.state.Pivot.NumberU64() {
		fs.pivotUpdateFailures++
		fs.state.PivotBlockUpdateFailures = fs.pivotUpdateFailures
		if fs.pivotUpdateFailures >= fs.cfg.MaximumTargetUpdateFailures {
			fs.phase = Aborted
			return PivotUpdateExhausted, ErrPivotUpdateExhausted
		}
		fs.phase = Running
		fs.state.UpdatingPivotBlock = false
		return TransientPeerError, errors.New("fastsync: candidate pivot older than current")
	}
	fs.state.Pivot = candidate
	fs.state.UpdatingPivotBlock = false
	fs.phase = Running
	fs.dirty = true
	return 0, nil
}

// EnqueueBodies appends hashes the importer still needs bodies for, per
// §4.3's FIFO download queue.
func (fs *FastSync) EnqueueBodies(hashes []common.Hash) {
	fs.state.BlockBodiesQueue = append(fs.state.BlockBodiesQueue, hashes...)
	fs.dirty = true
}

// EnqueueReceipts appends hashes the importer still needs receipts for.
func (fs *FastSync) EnqueueReceipts(hashes []common.Hash) {
	fs.state.ReceiptsQueue = append(fs.state.ReceiptsQueue, hashes...)
	fs.dirty = true
}

// DownloadBodies drains up to cfg.MaxConcurrentRequests entries from the
// body queue, requesting the whole batch from peerIDs[0] (the other peers are
// not used) under the current requestID; if the requestID has changed by the
// time the response arrives (a re-pivot in between), the response is
// discarded and the queue left as it was. Peers supplying an invalid body are blacklisted
// and their hashes requeued. Bodies that validate are persisted to the
// block store before being dropped from the queue.
func (fs *FastSync) DownloadBodies(peerIDs []string, req BodyRequester, bl Blacklister) error {
	if len(fs.state.BlockBodiesQueue) == 0 || len(peerIDs) == 0 {
		return nil
	}
	n := fs.cfg.MaxConcurrentRequests
	if n <= 0 || n > len(fs.state.BlockBodiesQueue) {
		n = len(fs.state.BlockBodiesQueue)
	}
	batch := fs.state.BlockBodiesQueue[:n]
	remaining := fs.state.BlockBodiesQueue[n:]

	peer := peerIDs[0]
	requestID := fs.currentRequestID
	bodies, err := req.RequestBodies(requestID, peer, batch)
	if err != nil {
		return nil // transient: leave the queue untouched for the next round
	}
	if requestID != fs.currentRequestID {
		return nil // stale response from before a re-pivot
	}

	var requeue []common.Hash
	wb := fs.writer.NewBatch()
	for _, hash := range batch {
		body, ok := bodies[hash]
		if !ok {
			requeue = append(requeue, hash)
			continue
		}
		header, err := fs.headerForBodyHash(hash)
		if err != nil {
			requeue = append(requeue, hash)
			continue
		}
		if fs.bodyValidator != nil {
			if err := fs.bodyValidator.ValidateBody(header, body); err != nil {
				if bl != nil {
					bl.Blacklist(peer, blacklistTierLong, err)
				}
				requeue = append(requeue, hash)
				continue
			}
		}
		if err := wb.PutBody(header.NumberU64(), hash, body); err != nil {
			return err
		}
	}
	if err := fs.writer.Commit(wb); err != nil {
		return err
	}
	fs.state.BlockBodiesQueue = append(remaining, requeue...)
	fs.dirty = true
	return nil
}

func (fs *FastSync) headerForBodyHash(hash common.Hash) (*types.Header, error) {
	number, ok, err := fs.snap.HeaderNumber(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chain.ErrUnknownBlock
	}
	return fs.snap.HeaderByHash(number, hash)
}

// DownloadReceipts mirrors DownloadBodies for the receipt queue.
func (fs *FastSync) DownloadReceipts(peerIDs []string, req ReceiptRequester, bl Blacklister) error {
	if len(fs.state.ReceiptsQueue) == 0 || len(peerIDs) == 0 {
		return nil
	}
	n := fs.cfg.MaxConcurrentRequests
	if n <= 0 || n > len(fs.state.ReceiptsQueue) {
		n = len(fs.state.ReceiptsQueue)
	}
	batch := fs.state.ReceiptsQueue[:n]
	remaining := fs.state.ReceiptsQueue[n:]

	peer := peerIDs[0]
	requestID := fs.currentRequestID
	receiptsByHash, err := req.RequestReceipts(requestID, peer, batch)
	if err != nil {
		return nil
	}
	if requestID != fs.currentRequestID {
		return nil
	}

	var requeue []common.Hash
	wb := fs.writer.NewBatch()
	for _, hash := range batch {
		receipts, ok := receiptsByHash[hash]
		if !ok {
			requeue = append(requeue, hash)
			continue
		}
		header, err := fs.headerForBodyHash(hash)
		if err != nil {
			requeue = append(requeue, hash)
			continue
		}
		if fs.receiptValidator != nil {
			if err := fs.receiptValidator.ValidateReceipts(header, receipts); err != nil {
				if bl != nil {
					bl.Blacklist(peer, blacklistTierLong, err)
				}
				requeue = append(requeue, hash)
				continue
			}
		}
		if err := wb.PutReceipts(header.NumberU64(), hash, receipts); err != nil {
			return err
		}
	}
	if err := fs.writer.Commit(wb); err != nil {
		return err
	}
	fs.state.ReceiptsQueue = append(remaining, requeue...)
	fs.dirty = true
	return nil
}

// StepState downloads one round of pivot-state nodes via the embedded
// statesync.Scheduler, reporting whether the pivot's state trie is now
// fully resolved.
func (fs *FastSync) StepState(req statesync.Requester, peerIDs []string, bl statesync.Blacklister) (bool, error) {
	if fs.stateSched == nil {
		return false, errors.New("fastsync: no pivot selected yet")
	}
	done, err := fs.stateSched.Step(req, peerIDs, bl)
	if err != nil {
		return false, err
	}
	fs.state.DownloadedNodesCount = fs.stateSched.DownloadedNodesCount()
	fs.state.TotalNodesCount = fs.stateSched.TotalNodesCount()
	if done {
		fs.state.StateSyncFinished = true
	}
	fs.dirty = true
	if fs.status != nil {
		fs.status.ReportProgress(fs.state.BestBlockHeaderNumber, fs.pivotNumber(), fs.state.TotalNodesCount, fs.state.DownloadedNodesCount)
	}
	return done, nil
}

func (fs *FastSync) pivotNumber() uint64 {
	if fs.state.Pivot == nil {
		return 0
	}
	return fs.state.Pivot.NumberU64()
}

// ReadyToFinish reports whether every condition for handing off to regular
// sync is satisfied: state trie resolved, bodies/receipts queues drained,
// no pending re-pivot.
func (fs *FastSync) ReadyToFinish() bool {
	return fs.phase == Running &&
		fs.state.StateSyncFinished &&
		len(fs.state.BlockBodiesQueue) == 0 &&
		len(fs.state.ReceiptsQueue) == 0
}

// Finish transitions Running -> Finished, clearing the persisted SyncState
// since a completed fast-sync never needs to resume.
func (fs *FastSync) Finish() error {
	if !fs.ReadyToFinish() {
		return errors.New("fastsync: not ready to finish")
	}
	fs.phase = Finished
	if fs.status != nil {
		fs.status.MarkDone()
	}
	return rawdb.DeleteSyncState(fs.db)
}

// PersistIfDirty flushes the coalesced SyncState snapshot if anything
// changed since the last flush — the single-writer coalescing actor's core
// step, called from a ticker or on a terminal phase transition. Multiple
// mutations between ticks collapse into exactly one write.
func (fs *FastSync) PersistIfDirty() error {
	if !fs.dirty {
		return nil
	}
	if err := rawdb.WriteSyncState(fs.db, &fs.state); err != nil {
		return err
	}
	fs.dirty = false
	return nil
}

// RunPersister drains persistence ticks until stop is closed, coalescing
// any number of intervening mutations into the latest pending snapshot
// only. Intended to run in its own goroutine.
func (fs *FastSync) RunPersister(stop <-chan struct{}) {
	interval := fs.cfg.PersistStateSnapshotInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = fs.PersistIfDirty()
		case <-stop:
			_ = fs.PersistIfDirty()
			return
		}
	}
}

// State returns a copy of the current SyncState, for diagnostics/tests.
func (fs *FastSync) State() types.SyncState { return fs.state }
