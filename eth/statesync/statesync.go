// Package statesync implements §4.4's StateScheduler: walking the state
// trie rooted at the fast-sync pivot's stateRoot, requesting missing nodes
// from peers, validating them against their claimed hash, and persisting
// them once their whole subtree is resolved. Depth-first-deepest ordering
// (the missing priority queue pops the deepest outstanding hashes first)
// keeps the in-memory working set small, matching §4.4's stated invariant
// that a node's bytes are held only while its children are still
// outstanding.
package statesync

import (
	"container/heap"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/VictoriaMetrics/fastcache"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/rawdb"
	"github.com/coreetc/chainsync/crypto"
	"github.com/coreetc/chainsync/ethdb"
	"github.com/coreetc/chainsync/trie"
)

// blacklistTierLong mirrors eth/peerpool.BlacklistTierLong: every rejection
// this package issues is for malformed/invalid data, never a transient
// condition, so it always uses the long tier.
const blacklistTierLong = 10 * time.Minute

// Kind classifies what a requested hash refers to.
type Kind int

const (
	KindStateTrie Kind = iota
	KindStorageTrie
	KindCode
)

// ErrUnsolicitedResponse is returned (and the sender blacklisted by the
// caller) when a peer delivers a hash the scheduler never requested.
var ErrUnsolicitedResponse = errors.New("statesync: unsolicited node response")

// maxEmptyResponsesBeforeBlacklist bounds how many times a hash may be
// answered empty (peer lacks the data) before its requester is blacklisted
// instead of merely requeued, per §4.4's validation contract.
const maxEmptyResponsesBeforeBlacklist = 3

// task is one entry of the missing priority queue / the pending set.
type task struct {
	hash      common.Hash
	depth     int
	kind      Kind
	parent    common.Hash
	hasParent bool
}

// missingQueue is a max-heap on depth: deepest-first, per §4.4.
type missingQueue []*task

func (q missingQueue) Len() int            { return len(q) }
func (q missingQueue) Less(i, j int) bool  { return q[i].depth > q[j].depth }
func (q missingQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *missingQueue) Push(x interface{}) { *q = append(*q, x.(*task)) }
func (q *missingQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// heldNode is a node whose bytes have been received and decoded but whose
// children are not all resolved yet, so it cannot be flushed.
type heldNode struct {
	bytes       []byte
	outstanding int
	parent      common.Hash
	hasParent   bool
}

// memBatch stages resolved nodes ahead of the durable flush. Storage is a
// fastcache.Cache (the same library go-ethereum uses for trie-node
// caching); the scheduler additionally tracks insertion order itself since
// fastcache has no enumeration API and a flush must visit exactly what was
// staged since the last one.
type memBatch struct {
	cache *fastcache.Cache
	order []common.Hash
}

func newMemBatch(sizeBytes int) *memBatch {
	return &memBatch{cache: fastcache.New(sizeBytes)}
}

func (m *memBatch) put(hash common.Hash, data []byte) {
	m.cache.Set(hash.Bytes(), data)
	m.order = append(m.order, hash)
}

func (m *memBatch) has(hash common.Hash) bool { return m.cache.Has(hash.Bytes()) }

func (m *memBatch) len() int { return len(m.order) }

func (m *memBatch) flush(write func(hash common.Hash, data []byte) error) error {
	for _, h := range m.order {
		data := m.cache.Get(nil, h.Bytes())
		if err := write(h, data); err != nil {
			return err
		}
	}
	m.order = m.order[:0]
	m.cache.Reset()
	return nil
}

// Requester fetches node/code bytes for a batch of hashes from one peer. A
// returned map entry absent for a requested hash means the peer didn't have
// it (an empty-for-that-hash response, not an error).
type Requester interface {
	RequestNodes(peerID string, hashes []common.Hash) (map[common.Hash][]byte, error)
}

// Blacklister excludes a misbehaving peer from future assignment.
type Blacklister interface {
	Blacklist(peerID string, duration time.Duration, reason error)
}

// Scheduler drives one pivot's state-trie download to completion.
type Scheduler struct {
	db ethdb.Database

	missing   missingQueue
	pending   map[common.Hash]*task
	held      map[common.Hash]*heldNode
	persisted *lru.Cache[common.Hash, struct{}]
	batch     *memBatch

	emptyResponseCount map[common.Hash]int

	maxInflight        int
	memBatchThreshold  int
	downloadedNodes    uint64
	totalNodesEstimate uint64
}

// Config carries the tunables §4.4/§4 name.
type Config struct {
	MaxInflight             int
	MemBatchThreshold       int
	MemBatchSizeBytes       int
	ResolvedMemoizationSize int
}

// New builds a Scheduler seeded with stateRoot at depth 0, per §4.4's first
// step.
func New(db ethdb.Database, stateRoot common.Hash, cfg Config) (*Scheduler, error) {
	lruCache, err := lru.New[common.Hash, struct{}](max(cfg.ResolvedMemoizationSize, 1))
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		db:                 db,
		pending:            make(map[common.Hash]*task),
		held:               make(map[common.Hash]*heldNode),
		persisted:          lruCache,
		batch:              newMemBatch(max(cfg.MemBatchSizeBytes, 1<<20)),
		emptyResponseCount: make(map[common.Hash]int),
		maxInflight:        max(cfg.MaxInflight, 1),
		memBatchThreshold:  max(cfg.MemBatchThreshold, 1),
	}
	if !stateRoot.IsZero() {
		already, err := s.alreadyResolved(stateRoot)
		if err != nil {
			return nil, err
		}
		if !already {
			heap.Push(&s.missing, &task{hash: stateRoot, depth: 0, kind: KindStateTrie})
			s.totalNodesEstimate = 1
		}
	}
	return s, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// alreadyResolved reports whether hash is known complete, either via the
// in-process LRU memo or the durable store (the restart case: "any node
// already stored satisfies its parent's outstanding-child counter without
// re-fetch").
func (s *Scheduler) alreadyResolved(hash common.Hash) (bool, error) {
	if _, ok := s.persisted.Get(hash); ok {
		return true, nil
	}
	if s.batch.has(hash) {
		return true, nil
	}
	has, err := rawdb.HasStateNode(s.db, hash.Bytes())
	if err != nil {
		return false, err
	}
	if has {
		s.persisted.Add(hash, struct{}{})
	}
	return has, nil
}

// DownloadedNodesCount returns the running count of nodes flushed to
// durable storage.
func (s *Scheduler) DownloadedNodesCount() uint64 { return s.downloadedNodes }

// TotalNodesCount returns the current estimate of the trie's total node
// count, revised upward as each fetched node reveals more children.
func (s *Scheduler) TotalNodesCount() uint64 { return s.totalNodesEstimate }

// Done reports §4.4's termination condition: both queues empty and nothing
// left staged.
func (s *Scheduler) Done() bool {
	return s.missing.Len() == 0 && len(s.pending) == 0 && len(s.held) == 0 && s.batch.len() == 0
}

// Step pops up to maxInflight hashes from missing, splits them round-robin
// across peerIDs, requests each batch, and processes the responses.
// Misbehaving peers are blacklisted through bl when it is non-nil. It
// returns whether the scheduler has now finished.
func (s *Scheduler) Step(req Requester, peerIDs []string, bl Blacklister) (done bool, err error) {
	if len(peerIDs) == 0 || s.missing.Len() == 0 {
		if err := s.maybeFlush(true); err != nil {
			return false, err
		}
		return s.Done(), nil
	}

	batchByPeer := make(map[string][]*task)
	n := 0
	for s.missing.Len() > 0 && n < s.maxInflight {
		t := heap.Pop(&s.missing).(*task)
		peer := peerIDs[n%len(peerIDs)]
		batchByPeer[peer] = append(batchByPeer[peer], t)
		s.pending[t.hash] = t
		n++
	}

	for peer, tasks := range batchByPeer {
		hashes := make([]common.Hash, len(tasks))
		for i, t := range tasks {
			hashes[i] = t.hash
		}
		resp, rerr := req.RequestNodes(peer, hashes)
		if rerr != nil {
			// transient: requeue everything requested from this peer
			for _, t := range tasks {
				delete(s.pending, t.hash)
				heap.Push(&s.missing, t)
			}
			continue
		}
		for _, t := range tasks {
			data, ok := resp[t.hash]
			delete(s.pending, t.hash)
			if !ok || len(data) == 0 {
				s.emptyResponseCount[t.hash]++
				if s.emptyResponseCount[t.hash] >= maxEmptyResponsesBeforeBlacklist && bl != nil {
					bl.Blacklist(peer, blacklistTierLong, errors.New("statesync: repeated empty response"))
				}
				heap.Push(&s.missing, t)
				continue
			}
			if err := s.handleResponse(t, data, peer, bl); err != nil {
				return false, err
			}
		}
	}

	if err := s.maybeFlush(false); err != nil {
		return false, err
	}
	return s.Done(), nil
}

// handleResponse verifies, decodes and schedules the children of one
// delivered node, per §4.4's core algorithm.
func (s *Scheduler) handleResponse(t *task, data []byte, peer string, bl Blacklister) error {
	if t.kind == KindCode {
		if crypto.Keccak256Hash(data) != t.hash {
			if bl != nil {
				bl.Blacklist(peer, blacklistTierLong, errors.New("statesync: code hash mismatch"))
			}
			heap.Push(&s.missing, t)
			return nil
		}
		s.complete(t, data)
		return nil
	}

	if err := trie.VerifyNode(t.hash, data); err != nil {
		if bl != nil {
			bl.Blacklist(peer, blacklistTierLong, err)
		}
		heap.Push(&s.missing, t)
		return nil
	}
	node, err := trie.DecodeNode(data)
	if err != nil {
		if bl != nil {
			bl.Blacklist(peer, blacklistTierLong, err)
		}
		heap.Push(&s.missing, t)
		return nil
	}

	var childHashes []common.Hash
	childHashes = append(childHashes, node.ChildHashes()...)

	var extraChildren []*task
	if node.Kind == trie.KindLeaf {
		if acc, ok := trie.DecodeAccountLeaf(node.Value); ok && t.kind == KindStateTrie {
			if !acc.StorageRoot.IsZero() {
				extraChildren = append(extraChildren, &task{hash: acc.StorageRoot, kind: KindStorageTrie})
			}
			if !acc.CodeHash.IsZero() {
				extraChildren = append(extraChildren, &task{hash: acc.CodeHash, kind: KindCode})
			}
		}
	}

	outstanding := 0
	for _, h := range childHashes {
		already, err := s.alreadyResolved(h)
		if err != nil {
			return err
		}
		if already {
			continue
		}
		outstanding++
		heap.Push(&s.missing, &task{hash: h, depth: t.depth + 1, kind: t.kind, parent: t.hash, hasParent: true})
	}
	for _, extra := range extraChildren {
		already, err := s.alreadyResolved(extra.hash)
		if err != nil {
			return err
		}
		if already {
			continue
		}
		outstanding++
		extra.depth = t.depth + 1
		extra.parent = t.hash
		extra.hasParent = true
		heap.Push(&s.missing, extra)
	}
	s.totalNodesEstimate += uint64(outstanding)

	if outstanding == 0 {
		s.complete(t, data)
		return nil
	}
	s.held[t.hash] = &heldNode{bytes: data, outstanding: outstanding, parent: t.parent, hasParent: t.hasParent}
	return nil
}

// complete moves t's bytes into memBatch and cascades the completion up to
// any parent whose outstanding-child counter this resolves to zero.
func (s *Scheduler) complete(t *task, data []byte) {
	s.batch.put(t.hash, data)
	s.persisted.Add(t.hash, struct{}{})

	parent, hasParent := t.parent, t.hasParent
	for hasParent {
		held, ok := s.held[parent]
		if !ok {
			break
		}
		held.outstanding--
		if held.outstanding > 0 {
			break
		}
		delete(s.held, parent)
		s.batch.put(parent, held.bytes)
		s.persisted.Add(parent, struct{}{})
		parent, hasParent = held.parent, held.hasParent
	}
}

// maybeFlush flushes memBatch to durable storage once it reaches
// memBatchThreshold, or unconditionally when force is set (used by callers
// draining the scheduler at shutdown/completion).
func (s *Scheduler) maybeFlush(force bool) error {
	if s.batch.len() == 0 {
		return nil
	}
	if !force && s.batch.len() < s.memBatchThreshold {
		return nil
	}
	b := s.db.NewBatch()
	count := uint64(0)
	err := s.batch.flush(func(hash common.Hash, data []byte) error {
		count++
		return rawdb.WriteStateNode(b, hash.Bytes(), data)
	})
	if err != nil {
		return err
	}
	if err := b.Write(); err != nil {
		return err
	}
	s.downloadedNodes += count
	return nil
}
