package pivot

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/types"
)

func header(number int64, extra byte) *types.Header {
	return &types.Header{
		ParentHash: common.Hash{},
		Difficulty: big.NewInt(1),
		Number:     big.NewInt(number),
		Timestamp:  uint64(number),
		ExtraData:  []byte{extra},
	}
}

type scriptedRequester struct {
	mu      sync.Mutex
	answers map[string]*types.Header // peerID -> header to return
	errs    map[string]error
}

func (r *scriptedRequester) RequestHeader(peerID string, number uint64) (*types.Header, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errs[peerID]; ok {
		return nil, err
	}
	return r.answers[peerID], nil
}

func noSleep(time.Duration) {}

func TestSelectPivotConvergesOnMajorityAgreement(t *testing.T) {
	agreed := header(936, 1)
	req := &scriptedRequester{answers: map[string]*types.Header{
		"p1": agreed,
		"p2": agreed,
		"p3": header(936, 2), // disagrees
	}}
	s := New(req, Config{
		PivotBlockOffset:                       64,
		MinPeersForPivotSelection:               3,
		PeersToChoosePivotBlockFromPercentage:   50,
		MaxRetries:                              0,
	})
	tips := []PeerTip{{PeerID: "p1", BestNumber: 1000}, {PeerID: "p2", BestNumber: 1000}, {PeerID: "p3", BestNumber: 1000}}

	got, err := s.SelectPivot(tips)
	if err != nil {
		t.Fatalf("SelectPivot: %v", err)
	}
	if got.Hash() != agreed.Hash() {
		t.Fatalf("expected agreed header, got number %d extra %v", got.NumberU64(), got.ExtraData)
	}
}

func TestSelectPivotFailsWithoutQuorum(t *testing.T) {
	req := &scriptedRequester{answers: map[string]*types.Header{
		"p1": header(936, 1),
		"p2": header(936, 2),
		"p3": header(936, 3),
	}}
	s := New(req, Config{
		PivotBlockOffset:                       64,
		MinPeersForPivotSelection:               3,
		PeersToChoosePivotBlockFromPercentage:   67,
		MaxRetries:                              1,
		RetryBackoff:                            time.Millisecond,
	})
	s.sleep = noSleep
	tips := []PeerTip{{PeerID: "p1", BestNumber: 1000}, {PeerID: "p2", BestNumber: 1000}, {PeerID: "p3", BestNumber: 1000}}

	_, err := s.SelectPivot(tips)
	if !errors.Is(err, ErrPivotSelectionFailed) {
		t.Fatalf("expected ErrPivotSelectionFailed, got %v", err)
	}
}

func TestSelectPivotIgnoresPeerErrors(t *testing.T) {
	agreed := header(936, 9)
	req := &scriptedRequester{
		answers: map[string]*types.Header{"p1": agreed, "p2": agreed},
		errs:    map[string]error{"p3": errors.New("timeout")},
	}
	s := New(req, Config{
		PivotBlockOffset:                     64,
		MinPeersForPivotSelection:             3,
		PeersToChoosePivotBlockFromPercentage: 50,
		MaxRetries:                            0,
	})
	tips := []PeerTip{{PeerID: "p1", BestNumber: 1000}, {PeerID: "p2", BestNumber: 1000}, {PeerID: "p3", BestNumber: 1000}}

	got, err := s.SelectPivot(tips)
	if err != nil {
		t.Fatalf("SelectPivot: %v", err)
	}
	if got.Hash() != agreed.Hash() {
		t.Fatalf("expected agreed header despite one peer error")
	}
}

func TestSelectPivotOffsetClampsAtZero(t *testing.T) {
	agreed := header(0, 1)
	req := &scriptedRequester{answers: map[string]*types.Header{"p1": agreed}}
	s := New(req, Config{
		PivotBlockOffset:                      64,
		MinPeersForPivotSelection:              1,
		PeersToChoosePivotBlockFromPercentage:  100,
		MaxRetries:                             0,
	})
	tips := []PeerTip{{PeerID: "p1", BestNumber: 10}} // 10 - 64 would underflow

	got, err := s.SelectPivot(tips)
	if err != nil {
		t.Fatalf("SelectPivot: %v", err)
	}
	if got.NumberU64() != 0 {
		t.Fatalf("expected clamped target number 0, got %d", got.NumberU64())
	}
}
