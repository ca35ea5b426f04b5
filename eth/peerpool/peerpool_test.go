package peerpool

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/coreetc/chainsync/core/types"
)

func weight(td uint64) types.ChainWeight {
	return types.NewChainWeight(0, uint256.NewInt(td))
}

func TestHandshakeAndDisconnect(t *testing.T) {
	p := New(0, 10, 10)
	if err := p.OnHandshakeDone("a", "1.2.3.4", [32]byte{1}, weight(100), false); err != nil {
		t.Fatalf("OnHandshakeDone: %v", err)
	}
	if err := p.OnHandshakeDone("a", "1.2.3.4", [32]byte{1}, weight(100), false); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if got := len(p.HandshakedPeers()); got != 1 {
		t.Fatalf("expected 1 handshaked peer, got %d", got)
	}
	if err := p.OnDisconnect("a"); err != nil {
		t.Fatalf("OnDisconnect: %v", err)
	}
	if err := p.OnDisconnect("a"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestCapacityCapsAreEnforcedIndependently(t *testing.T) {
	p := New(0, 1, 1)
	if err := p.OnHandshakeDone("in1", "", [32]byte{}, weight(1), true); err != nil {
		t.Fatalf("first incoming: %v", err)
	}
	if err := p.OnHandshakeDone("in2", "", [32]byte{}, weight(1), true); err == nil {
		t.Fatalf("expected incoming capacity error")
	}
	if err := p.OnHandshakeDone("out1", "", [32]byte{}, weight(1), false); err != nil {
		t.Fatalf("first outgoing: %v", err)
	}
	if err := p.OnHandshakeDone("out2", "", [32]byte{}, weight(1), false); err == nil {
		t.Fatalf("expected outgoing capacity error")
	}
}

func TestBlacklistExtendsToLongerDuration(t *testing.T) {
	p := New(0, 10, 10)
	p.Blacklist("x", 10*time.Millisecond, nil)
	if !p.IsBlacklisted("x") {
		t.Fatalf("expected x blacklisted")
	}
	// a shorter extension must not shrink the existing deadline
	p.Blacklist("x", time.Nanosecond, nil)
	time.Sleep(15 * time.Millisecond)
	if p.IsBlacklisted("x") {
		t.Fatalf("expected blacklist to have expired after the longer duration")
	}
}

func TestBlacklistedPeerExcludedFromHandshakedPeers(t *testing.T) {
	p := New(0, 10, 10)
	if err := p.OnHandshakeDone("a", "", [32]byte{}, weight(1), false); err != nil {
		t.Fatalf("OnHandshakeDone: %v", err)
	}
	p.Blacklist("a", time.Hour, nil)
	if got := len(p.HandshakedPeers()); got != 0 {
		t.Fatalf("expected blacklisted peer excluded, got %d", got)
	}
}

func TestChooseBestPeerPrefersHigherWeightThenLowerLatency(t *testing.T) {
	p := New(0, 10, 10)
	_ = p.OnHandshakeDone("low", "", [32]byte{}, weight(50), false)
	_ = p.OnHandshakeDone("fast", "", [32]byte{}, weight(100), false)
	_ = p.OnHandshakeDone("slow", "", [32]byte{}, weight(100), false)
	p.peers["fast"].Latency = time.Millisecond
	p.peers["slow"].Latency = time.Second

	best, err := p.ChooseBestPeer(weight(100), 16)
	if err != nil {
		t.Fatalf("ChooseBestPeer: %v", err)
	}
	if best.ID != "fast" {
		t.Fatalf("expected fast peer chosen, got %s", best.ID)
	}
}

func TestChooseBestPeerExcludesSaturatedPeers(t *testing.T) {
	p := New(0, 10, 10)
	_ = p.OnHandshakeDone("a", "", [32]byte{}, weight(100), false)
	p.peers["a"].PendingRequests = 99

	if _, err := p.ChooseBestPeer(weight(100), 1); err != ErrNoSuitablePeer {
		t.Fatalf("expected ErrNoSuitablePeer, got %v", err)
	}
}

func TestMarkBlockDedupesKnownBlocks(t *testing.T) {
	p := New(0, 10, 10)
	_ = p.OnHandshakeDone("a", "", [32]byte{}, weight(1), false)
	rec := p.peers["a"]
	hash := [32]byte{9}
	if rec.KnowsBlock(hash) {
		t.Fatalf("expected block unknown initially")
	}
	rec.MarkBlock(hash)
	if !rec.KnowsBlock(hash) {
		t.Fatalf("expected block known after MarkBlock")
	}
}
