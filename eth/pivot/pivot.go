// Package pivot implements §4.2's PivotSelector: sample a quorum of peers,
// request the header at a fixed offset behind their advertised tip, and
// accept it as the fast-sync pivot once enough peers agree. The
// request/response-per-peer shape is grounded on A-Chain's skeleton.go
// headerRequest pattern (one goroutine per outstanding peer request,
// results funneled onto a shared channel), simplified here to a single
// round-trip per attempt rather than skeleton.go's full cancel/stale
// machinery, since a pivot header request has no long-lived in-flight state
// to revert.
package pivot

import (
	"errors"
	"time"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/types"
)

// ErrPivotSelectionFailed is reported when no quorum converges within the
// retry budget.
var ErrPivotSelectionFailed = errors.New("pivot: selection failed, no quorum converged")

// PeerTip is the minimal peer state PivotSelector needs: an identifier to
// request from, and the block number it last advertised as its tip.
type PeerTip struct {
	PeerID     string
	BestNumber uint64
}

// Requester fetches the header at number from peerID. A real implementation
// wraps eth/protocols/eth.RequestHeaders + p2p.MsgReadWriter; tests supply a
// fake.
type Requester interface {
	RequestHeader(peerID string, number uint64) (*types.Header, error)
}

// Config carries the tunables §4.2 names.
type Config struct {
	PivotBlockOffset                      uint64
	MinPeersForPivotSelection             int
	PeersToChoosePivotBlockFromPercentage int // 0-100
	MaxRetries                            int
	RetryBackoff                          time.Duration
}

// Selector samples peers and converges on a pivot header.
type Selector struct {
	requester Requester
	cfg       Config
	sleep     func(time.Duration) // overridable in tests
}

// New builds a Selector issuing requests through requester.
func New(requester Requester, cfg Config) *Selector {
	return &Selector{requester: requester, cfg: cfg, sleep: time.Sleep}
}

type sampleResult struct {
	hash   common.Hash
	header *types.Header
	err    error
}

// SelectPivot samples up to cfg.MinPeersForPivotSelection of tips per
// attempt, requesting each one's header at (bestNumber - pivotBlockOffset),
// grouping responses by hash, and returning the header once a quorum of
// >= PeersToChoosePivotBlockFromPercentage agree. Retries with backoff up to
// cfg.MaxRetries times before reporting ErrPivotSelectionFailed.
func (s *Selector) SelectPivot(tips []PeerTip) (*types.Header, error) {
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		sample := s.sample(tips)
		if len(sample) == 0 {
			s.backoff(attempt)
			continue
		}

		results := make(chan sampleResult, len(sample))
		for _, tip := range sample {
			go func(tip PeerTip) {
				target := uint64(0)
				if tip.BestNumber > s.cfg.PivotBlockOffset {
					target = tip.BestNumber - s.cfg.PivotBlockOffset
				}
				header, err := s.requester.RequestHeader(tip.PeerID, target)
				if err != nil {
					results <- sampleResult{err: err}
					return
				}
				results <- sampleResult{hash: header.Hash(), header: header}
			}(tip)
		}

		counts := make(map[common.Hash]int)
		headers := make(map[common.Hash]*types.Header)
		for i := 0; i < len(sample); i++ {
			r := <-results
			if r.err != nil {
				continue
			}
			counts[r.hash]++
			headers[r.hash] = r.header
		}

		quorum := requiredQuorum(len(sample), s.cfg.PeersToChoosePivotBlockFromPercentage)
		for hash, count := range counts {
			if count >= quorum {
				return headers[hash], nil
			}
		}
		s.backoff(attempt)
	}
	return nil, ErrPivotSelectionFailed
}

func (s *Selector) sample(tips []PeerTip) []PeerTip {
	n := s.cfg.MinPeersForPivotSelection
	if n <= 0 || n > len(tips) {
		n = len(tips)
	}
	return tips[:n]
}

func (s *Selector) backoff(attempt int) {
	if s.cfg.RetryBackoff <= 0 {
		return
	}
	s.sleep(s.cfg.RetryBackoff)
}

// requiredQuorum computes the minimum count of agreeing responses out of n
// sampled peers needed to satisfy percentage, rounding up.
func requiredQuorum(n, percentage int) int {
	if n == 0 {
		return 1
	}
	q := (n*percentage + 99) / 100
	if q < 1 {
		q = 1
	}
	return q
}
