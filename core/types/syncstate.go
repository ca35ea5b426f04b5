package types

import (
	"io"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/rlp"
)

// SyncState is the sole durable record of fast-sync progress. Replaying the
// on-disk block store plus the last persisted SyncState must always yield a
// resumable position; BlockBodiesQueue/ReceiptsQueue are a superset of what
// still needs downloading; that is why a restart never needs to start over.
type SyncState struct {
	Pivot                    *Header
	SafeDownloadTarget       uint64
	BlockBodiesQueue         []common.Hash
	ReceiptsQueue            []common.Hash
	BestBlockHeaderNumber    uint64
	NextBlockToFullyValidate uint64
	DownloadedNodesCount     uint64
	TotalNodesCount          uint64
	PivotBlockUpdateFailures uint32
	UpdatingPivotBlock       bool
	StateSyncFinished        bool
}

type rlpSyncState struct {
	HasPivot                 uint64 // 0/1: Pivot is nil before SelectingPivot completes
	Pivot                    Header
	SafeDownloadTarget       uint64
	BlockBodiesQueue         []common.Hash
	ReceiptsQueue            []common.Hash
	BestBlockHeaderNumber    uint64
	NextBlockToFullyValidate uint64
	DownloadedNodesCount     uint64
	TotalNodesCount          uint64
	PivotBlockUpdateFailures uint32
	UpdatingPivotBlock       uint64 // bool encoded as 0/1
	StateSyncFinished        uint64
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (s *SyncState) toRLP() rlpSyncState {
	var pivot Header
	hasPivot := uint64(0)
	if s.Pivot != nil {
		pivot = *s.Pivot
		hasPivot = 1
	}
	return rlpSyncState{
		HasPivot:                 hasPivot,
		Pivot:                    pivot,
		SafeDownloadTarget:       s.SafeDownloadTarget,
		BlockBodiesQueue:         s.BlockBodiesQueue,
		ReceiptsQueue:            s.ReceiptsQueue,
		BestBlockHeaderNumber:    s.BestBlockHeaderNumber,
		NextBlockToFullyValidate: s.NextBlockToFullyValidate,
		DownloadedNodesCount:     s.DownloadedNodesCount,
		TotalNodesCount:          s.TotalNodesCount,
		PivotBlockUpdateFailures: s.PivotBlockUpdateFailures,
		UpdatingPivotBlock:       boolToUint64(s.UpdatingPivotBlock),
		StateSyncFinished:        boolToUint64(s.StateSyncFinished),
	}
}

// EncodeRLP implements rlp.Encoder.
func (s *SyncState) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, s.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (s *SyncState) DecodeRLP(raw []byte) error {
	var r rlpSyncState
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return err
	}
	if r.HasPivot == 1 {
		pivot := r.Pivot
		s.Pivot = &pivot
	} else {
		s.Pivot = nil
	}
	s.SafeDownloadTarget = r.SafeDownloadTarget
	s.BlockBodiesQueue = r.BlockBodiesQueue
	s.ReceiptsQueue = r.ReceiptsQueue
	s.BestBlockHeaderNumber = r.BestBlockHeaderNumber
	s.NextBlockToFullyValidate = r.NextBlockToFullyValidate
	s.DownloadedNodesCount = r.DownloadedNodesCount
	s.TotalNodesCount = r.TotalNodesCount
	s.PivotBlockUpdateFailures = r.PivotBlockUpdateFailures
	s.UpdatingPivotBlock = r.UpdatingPivotBlock == 1
	s.StateSyncFinished = r.StateSyncFinished == 1
	return nil
}
