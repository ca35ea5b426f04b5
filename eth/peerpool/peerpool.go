// Package peerpool implements §4.1's PeerPool: the set of handshaked peers,
// their advertised chain weight and request capacity, and a time-bounded
// blacklist. It is grounded on eth-classic's own eth/peer.go peerSet
// (mutex-protected map, errClosed/errAlreadyRegistered/errNotRegistered
// naming) generalized from a single protocol version's peer type to the
// PeerRecord shape §3 specifies.
package peerpool

import (
	"errors"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/time/rate"

	"github.com/coreetc/chainsync/core/types"
)

var (
	ErrClosed            = errors.New("peerpool: pool is closed")
	ErrAlreadyRegistered = errors.New("peerpool: peer already registered")
	ErrNotRegistered     = errors.New("peerpool: peer not registered")
	ErrNoSuitablePeer    = errors.New("peerpool: no suitable peer available")
)

// Blacklist tiers, per §4.1's policy of short vs long durations.
const (
	BlacklistTierShort time.Duration = 30 * time.Second  // TooManyPeers and similarly transient faults
	BlacklistTierLong  time.Duration = 10 * time.Minute  // malformed/invalid data
	BlacklistTierFatal time.Duration = 1 * time.Hour     // repeated or severe misbehavior
	maxBlacklistSize                 = 4096
)

// PeerRecord is the per-peer state §3 defines.
type PeerRecord struct {
	ID              string
	Addr            string
	BestHash        [32]byte
	Weight          types.ChainWeight
	LastResponseAt  time.Time
	PendingRequests int
	Latency         time.Duration
	Incoming        bool

	// KnownBlocks dedupes NewBlock broadcasts the same way eth-classic's
	// peer.knownBlocks set does: a block already known to have reached this
	// peer (because it sent it to us, or we already sent it) is never
	// re-announced.
	KnownBlocks mapset.Set[[32]byte]

	limiter *rate.Limiter
}

const maxKnownBlocks = 1024

// MarkBlock records that hash is now known to this peer, evicting an
// arbitrary older entry once the set exceeds maxKnownBlocks.
func (p *PeerRecord) MarkBlock(hash [32]byte) {
	for p.KnownBlocks.Cardinality() >= maxKnownBlocks {
		any, ok := p.KnownBlocks.Pop()
		if !ok {
			break
		}
		_ = any
	}
	p.KnownBlocks.Add(hash)
}

// KnowsBlock reports whether hash has already been marked known to this peer.
func (p *PeerRecord) KnowsBlock(hash [32]byte) bool { return p.KnownBlocks.Contains(hash) }

// Allow reports whether a new request may be issued to this peer right now
// under its fastSyncThrottle rate limit.
func (p *PeerRecord) Allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

type blacklistEntry struct {
	peerID string
	until  time.Time
}

// Pool tracks handshaked peers and the blacklist. The zero value is not
// usable; construct with New.
type Pool struct {
	throttle rate.Limit

	maxIncoming int
	maxOutgoing int

	peers     map[string]*PeerRecord
	blacklist map[string]time.Time
	order     []blacklistEntry // insertion order, for capacity eviction

	nIncoming int
	nOutgoing int

	closed bool
}

// New builds an empty Pool. throttle is the per-peer request rate applied
// via Allow; maxIncoming/maxOutgoing cap accepted peers of each direction
// independently, per §4.1.
func New(throttle rate.Limit, maxIncoming, maxOutgoing int) *Pool {
	return &Pool{
		throttle:    throttle,
		maxIncoming: maxIncoming,
		maxOutgoing: maxOutgoing,
		peers:       make(map[string]*PeerRecord),
		blacklist:   make(map[string]time.Time),
	}
}

// OnHandshakeDone registers a newly handshaked peer. Returns
// ErrAlreadyRegistered if id is already tracked, or an error if the
// relevant direction's capacity is exhausted.
func (p *Pool) OnHandshakeDone(id, addr string, bestHash [32]byte, weight types.ChainWeight, incoming bool) error {
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.peers[id]; ok {
		return ErrAlreadyRegistered
	}
	if incoming && p.nIncoming >= p.maxIncoming {
		return errors.New("peerpool: incoming peer capacity exceeded")
	}
	if !incoming && p.nOutgoing >= p.maxOutgoing {
		return errors.New("peerpool: outgoing peer capacity exceeded")
	}
	rec := &PeerRecord{
		ID:             id,
		Addr:           addr,
		BestHash:       bestHash,
		Weight:         weight,
		LastResponseAt: time.Now(),
		Incoming:       incoming,
		KnownBlocks:    mapset.NewSet[[32]byte](),
	}
	if p.throttle > 0 {
		rec.limiter = rate.NewLimiter(p.throttle, 1)
	}
	p.peers[id] = rec
	if incoming {
		p.nIncoming++
	} else {
		p.nOutgoing++
	}
	return nil
}

// OnDisconnect removes a peer from the handshaked set.
func (p *Pool) OnDisconnect(id string) error {
	rec, ok := p.peers[id]
	if !ok {
		return ErrNotRegistered
	}
	delete(p.peers, id)
	if rec.Incoming {
		p.nIncoming--
	} else {
		p.nOutgoing--
	}
	return nil
}

// UpdateWeight records a peer's newer advertised chain weight, e.g. after a
// NewBlock announcement.
func (p *Pool) UpdateWeight(id string, bestHash [32]byte, weight types.ChainWeight) error {
	rec, ok := p.peers[id]
	if !ok {
		return ErrNotRegistered
	}
	rec.BestHash = bestHash
	rec.Weight = weight
	return nil
}

// OnResponse records that a peer answered a request, updating its latency
// and response timestamp and decrementing its pending-request count.
func (p *Pool) OnResponse(id string, latency time.Duration) {
	rec, ok := p.peers[id]
	if !ok {
		return
	}
	rec.LastResponseAt = time.Now()
	rec.Latency = latency
	if rec.PendingRequests > 0 {
		rec.PendingRequests--
	}
}

// MarkRequestSent increments a peer's pending-request count; paired with
// OnResponse or a timeout that decrements it again.
func (p *Pool) MarkRequestSent(id string) {
	if rec, ok := p.peers[id]; ok {
		rec.PendingRequests++
	}
}

// Blacklist excludes peerID from selection for duration, per §4.1 idempotent
// merge: extending an existing entry uses the longer of the two remaining
// durations. Oldest entries are evicted once the blacklist exceeds its
// capacity.
func (p *Pool) Blacklist(peerID string, duration time.Duration, reason error) {
	_ = reason // logged by the caller; the pool itself only tracks the timer
	until := time.Now().Add(duration)
	if existing, ok := p.blacklist[peerID]; ok {
		if existing.After(until) {
			until = existing
		}
	} else {
		p.order = append(p.order, blacklistEntry{peerID: peerID, until: until})
	}
	p.blacklist[peerID] = until
	p.evictOldestIfOverCapacity()
}

func (p *Pool) evictOldestIfOverCapacity() {
	for len(p.blacklist) > maxBlacklistSize && len(p.order) > 0 {
		oldest := p.order[0]
		p.order = p.order[1:]
		if p.blacklist[oldest.peerID] == oldest.until {
			delete(p.blacklist, oldest.peerID)
		}
	}
}

// IsBlacklisted reports whether peerID is currently excluded.
func (p *Pool) IsBlacklisted(peerID string) bool {
	until, ok := p.blacklist[peerID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(p.blacklist, peerID)
		return false
	}
	return true
}

// HandshakedPeers returns every tracked peer that is not currently
// blacklisted.
func (p *Pool) HandshakedPeers() []*PeerRecord {
	out := make([]*PeerRecord, 0, len(p.peers))
	for id, rec := range p.peers {
		if p.IsBlacklisted(id) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChooseBestPeer returns a non-saturated, non-blacklisted peer whose weight
// is >= minWeight, tie-breaking by lowest latency then lowest peer id, per
// §4.1. maxPendingPerPeer bounds what "saturated" means.
func (p *Pool) ChooseBestPeer(minWeight types.ChainWeight, maxPendingPerPeer int) (*PeerRecord, error) {
	candidates := p.HandshakedPeers()
	var best *PeerRecord
	for _, rec := range candidates {
		if rec.Weight.Cmp(minWeight) < 0 {
			continue
		}
		if rec.PendingRequests >= maxPendingPerPeer {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		if rec.Latency < best.Latency {
			best = rec
		} else if rec.Latency == best.Latency && rec.ID < best.ID {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNoSuitablePeer
	}
	return best, nil
}

// Close marks the pool closed; further OnHandshakeDone calls fail.
func (p *Pool) Close() { p.closed = true }

// Len returns the number of currently handshaked (not necessarily
// non-blacklisted) peers.
func (p *Pool) Len() int { return len(p.peers) }
