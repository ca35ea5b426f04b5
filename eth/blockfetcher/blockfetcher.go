// Package blockfetcher implements §4.5's BlockFetcher: in regular
// (post-fast-sync) operation it keeps an ordered, contiguous window of
// validated headers+bodies slightly ahead of the importer, fed by peer
// NewBlock/NewBlockHashes announcements. The fetch-then-match-bodies
// pipeline and the "single header request in flight, bodies batched"
// backpressure policy are grounded on the teacher's eth/fetcher package
// naming and shape (fetcher_test.go's queue/stash vocabulary), generalized
// here from block-only announcements to the header/body two-stage pipeline
// §4.5 actually specifies.
package blockfetcher

import (
	"errors"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/types"
)

// ErrInsufficientBlocks is returned by PickBlocks when fewer than n
// contiguous blocks are ready.
var ErrInsufficientBlocks = errors.New("blockfetcher: insufficient contiguous ready blocks")

// blacklistTierLong mirrors eth/peerpool.BlacklistTierLong: an invalidated
// window is always the result of bad data, never a transient condition.
const blacklistTierLong = 10 * time.Minute

// Blacklister reports a misbehaving peer, matching eth/peerpool.Pool's
// Blacklist signature so a *peerpool.Pool satisfies it directly.
type Blacklister interface {
	Blacklist(peerID string, duration time.Duration, reason error)
}

// HeaderRequester fetches a contiguous run of headers starting at origin.
type HeaderRequester interface {
	RequestHeaders(peerID string, origin uint64, max int) ([]*types.Header, error)
}

// BodyRequester fetches bodies for the given header hashes.
type BodyRequester interface {
	RequestBodies(peerID string, hashes []common.Hash) (map[common.Hash]*types.Body, error)
}

// Config carries the tunables §4.5 names.
type Config struct {
	MaxFetcherQueueSize int // bounds len(waitingHeaders)+len(readyBlocks)
	BlockBodiesPerRequest int
	KnownHashesMemoSize int // bounds the announced-hash dedup cache
}

// NewBlockAction classifies how HandleNewBlock disposed of an announcement,
// mirroring §4.5's four NewBlock cases.
type NewBlockAction int

const (
	ActionForwardedToTop NewBlockAction = iota
	ActionRecordedKnownTop
	ActionAdoptedWaitingHeader
	ActionIgnored
)

// Fetcher maintains the sliding window of fetched headers+bodies ahead of
// the importer.
type Fetcher struct {
	readyBlocks         map[uint64]*types.Block
	waitingHeaders      []*types.Header // ascending by number; with readyBlocks, covers the window above lastFullBlockNumber
	knownTop            uint64
	lastFullBlockNumber uint64

	fetchingHeaders    bool
	fetchingBodies     bool
	fetchingStateNode  bool

	cfg  Config
	seen *lru.Cache[common.Hash, struct{}]

	currentHeaderPeer string // peer the single in-flight header request targets
}

// New builds a Fetcher. Call Start to seed it from the importer's current
// best block before use.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxFetcherQueueSize <= 0 {
		cfg.MaxFetcherQueueSize = 192
	}
	if cfg.BlockBodiesPerRequest <= 0 {
		cfg.BlockBodiesPerRequest = 32
	}
	if cfg.KnownHashesMemoSize <= 0 {
		cfg.KnownHashesMemoSize = 4096
	}
	seen, err := lru.New[common.Hash, struct{}](cfg.KnownHashesMemoSize)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		readyBlocks: make(map[uint64]*types.Block),
		cfg:         cfg,
		seen:        seen,
	}, nil
}

// Start seeds the fetcher's window from the importer's current best block
// number; fetching resumes at fromBlock+1.
func (f *Fetcher) Start(fromBlock uint64) {
	f.lastFullBlockNumber = fromBlock
	f.knownTop = fromBlock
	f.readyBlocks = make(map[uint64]*types.Block)
	f.waitingHeaders = nil
}

// PickBlocks returns exactly n contiguous blocks starting at
// lastFullBlockNumber+1, advancing the window past them. It reports
// ErrInsufficientBlocks rather than a partial batch, since the importer
// must apply blocks in strict order.
func (f *Fetcher) PickBlocks(n int) ([]*types.Block, error) {
	out := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		b, ok := f.readyBlocks[f.lastFullBlockNumber+uint64(i)+1]
		if !ok {
			return nil, ErrInsufficientBlocks
		}
		out = append(out, b)
	}
	for _, b := range out {
		delete(f.readyBlocks, b.NumberU64())
	}
	f.lastFullBlockNumber += uint64(len(out))
	return out, nil
}

// InvalidateFrom drops every ready block and waiting header at number n or
// above — used after a Failed import or a rejected branch — and optionally
// blacklists the peer that supplied the bad data.
func (f *Fetcher) InvalidateFrom(n uint64, reason error, peerID string, bl Blacklister) {
	for num := range f.readyBlocks {
		if num >= n {
			delete(f.readyBlocks, num)
		}
	}
	kept := f.waitingHeaders[:0]
	for _, h := range f.waitingHeaders {
		if h.NumberU64() < n {
			kept = append(kept, h)
		}
	}
	f.waitingHeaders = kept
	if peerID != "" && bl != nil {
		bl.Blacklist(peerID, blacklistTierLong, reason)
	}
}

// FetchStateNode issues an on-demand missing-node request on the importer's
// behalf during block execution. The actual wire round-trip is delegated to
// req, keeping the fetcher's window bookkeeping untouched by it.
func (f *Fetcher) FetchStateNode(hash common.Hash, peerID string, req interface {
	RequestNodeData(peerID string, hash common.Hash) ([]byte, error)
}) ([]byte, error) {
	f.fetchingStateNode = true
	defer func() { f.fetchingStateNode = false }()
	return req.RequestNodeData(peerID, hash)
}

// onTop reports whether the fetcher has no backlog: the next block the
// importer wants is immediately available or about to be.
func (f *Fetcher) onTop() bool {
	return f.knownTop <= f.lastFullBlockNumber+1
}

// HandleNewBlock implements §4.5's four NewBlock cases.
func (f *Fetcher) HandleNewBlock(block *types.Block) NewBlockAction {
	num := block.NumberU64()
	switch {
	case num == f.lastFullBlockNumber+1 && f.onTop():
		f.readyBlocks[num] = block
		return ActionForwardedToTop
	case num > f.lastFullBlockNumber+1:
		if num > f.knownTop {
			f.knownTop = num
		}
		return ActionRecordedKnownTop
	case f.isAwaitedHeader(num) && f.readyBlocks[num] == nil:
		f.readyBlocks[num] = block
		return ActionAdoptedWaitingHeader
	default:
		return ActionIgnored
	}
}

func (f *Fetcher) isAwaitedHeader(num uint64) bool {
	for _, h := range f.waitingHeaders {
		if h.NumberU64() == num {
			return true
		}
	}
	return false
}

// HandleNewBlockHashes records announced hashes as candidates for the known
// top and deduplicates repeat announcements via the seen-hash memo.
func (f *Fetcher) HandleNewBlockHashes(hashes []common.Hash, numbers []uint64) {
	for i, h := range hashes {
		if _, ok := f.seen.Get(h); ok {
			continue
		}
		f.seen.Add(h, struct{}{})
		if i < len(numbers) && numbers[i] > f.knownTop {
			f.knownTop = numbers[i]
		}
	}
}

// FillHeaders issues the single in-flight header request (bounded by
// MaxFetcherQueueSize) if the window has room and none is outstanding.
func (f *Fetcher) FillHeaders(peerID string, req HeaderRequester) error {
	if f.fetchingHeaders {
		return nil
	}
	if f.windowSize() >= f.cfg.MaxFetcherQueueSize {
		return nil
	}
	origin := f.lastFullBlockNumber + 1
	for num := range f.readyBlocks {
		if num >= origin {
			origin = num + 1
		}
	}
	if n := len(f.waitingHeaders); n > 0 && f.waitingHeaders[n-1].NumberU64() >= origin {
		origin = f.waitingHeaders[n-1].NumberU64() + 1
	}
	room :=f.cfg.MaxFetcherQueueSize - f.windowSize()
	f.fetchingHeaders = true
	f.currentHeaderPeer = peerID
	defer func() { f.fetchingHeaders = false }()

	headers, err := req.RequestHeaders(peerID, origin, room)
	if err != nil {
		return err
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].NumberU64() < headers[j].NumberU64() })
	f.waitingHeaders = append(f.waitingHeaders, headers...)
	return nil
}

// FillBodies requests bodies for up to BlockBodiesPerRequest waiting
// headers, matching returned bodies into readyBlocks and trimming
// waitingHeaders to the remainder.
func (f *Fetcher) FillBodies(peerID string, req BodyRequester) error {
	if f.fetchingBodies || len(f.waitingHeaders) == 0 {
		return nil
	}
	n := f.cfg.BlockBodiesPerRequest
	if n > len(f.waitingHeaders) {
		n = len(f.waitingHeaders)
	}
	batch := f.waitingHeaders[:n]
	hashes := make([]common.Hash, n)
	for i, h := range batch {
		hashes[i] = h.Hash()
	}

	f.fetchingBodies = true
	defer func() { f.fetchingBodies = false }()

	bodies, err := req.RequestBodies(peerID, hashes)
	if err != nil {
		return err
	}

	remaining := f.waitingHeaders[:0:0]
	for _, h := range batch {
		if body, ok := bodies[h.Hash()]; ok {
			f.readyBlocks[h.NumberU64()] = types.NewBlock(h, body)
		} else {
			remaining = append(remaining, h)
		}
	}
	remaining = append(remaining, f.waitingHeaders[n:]...)
	f.waitingHeaders = remaining
	return nil
}

func (f *Fetcher) windowSize() int {
	return len(f.readyBlocks) + len(f.waitingHeaders)
}

// KnownTop reports the highest block number announced by any peer.
func (f *Fetcher) KnownTop() uint64 { return f.knownTop }

// LastFullBlockNumber reports the last block number the importer has
// consumed through PickBlocks.
func (f *Fetcher) LastFullBlockNumber() uint64 { return f.lastFullBlockNumber }
