package types

import "github.com/holiman/uint256"

// ChainWeight is the total order used to compare competing chains. Per the
// resolved design, it is the lexicographic pair (LatestCheckpointNumber,
// TotalDifficulty): a chain with a higher finalized checkpoint always wins
// regardless of raw difficulty, and total difficulty only breaks ties
// between chains sharing the same checkpoint height. Plain total-difficulty
// chains (no checkpointing) carry LatestCheckpointNumber == 0 and compare by
// TotalDifficulty alone, which keeps pre-ETC64 peers compatible.
type ChainWeight struct {
	LatestCheckpointNumber uint64
	TotalDifficulty        *uint256.Int
}

// NewChainWeight builds a ChainWeight from plain numbers.
func NewChainWeight(checkpoint uint64, td *uint256.Int) ChainWeight {
	if td == nil {
		td = new(uint256.Int)
	}
	return ChainWeight{LatestCheckpointNumber: checkpoint, TotalDifficulty: td}
}

// Add returns the ChainWeight obtained by extending w with one more header,
// taking the higher of the two checkpoint numbers and summing difficulty.
func (w ChainWeight) Add(h *Header, checkpoint uint64) ChainWeight {
	next := w.LatestCheckpointNumber
	if checkpoint > next {
		next = checkpoint
	}
	td := new(uint256.Int).Set(w.TotalDifficulty)
	hd, _ := uint256.FromBig(h.Difficulty)
	td.Add(td, hd)
	return ChainWeight{LatestCheckpointNumber: next, TotalDifficulty: td}
}

// Cmp returns -1, 0 or +1 as w is less than, equal to, or greater than o,
// comparing LatestCheckpointNumber first and TotalDifficulty as the
// tiebreak.
func (w ChainWeight) Cmp(o ChainWeight) int {
	switch {
	case w.LatestCheckpointNumber < o.LatestCheckpointNumber:
		return -1
	case w.LatestCheckpointNumber > o.LatestCheckpointNumber:
		return 1
	}
	return w.TotalDifficulty.Cmp(o.TotalDifficulty)
}

// GreaterThan reports whether w is a strictly heavier chain than o.
func (w ChainWeight) GreaterThan(o ChainWeight) bool { return w.Cmp(o) > 0 }
