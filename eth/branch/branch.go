// Package branch implements §4.7's BranchResolver: given a candidate header
// chain, decide whether it extends, reorganizes, or is rejected against the
// locally canonical chain, using the mandated (checkpointNumber,
// totalDifficulty) lexicographic ChainWeight order (Open Question (i)).
package branch

import (
	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/core/types"
	"github.com/coreetc/chainsync/internal/chain"
)

// Outcome enumerates BranchResolver's possible verdicts.
type Outcome int

const (
	// UnknownBranch means the candidate's first header's parent is neither
	// canonical nor otherwise known locally.
	UnknownBranch Outcome = iota
	// InvalidBranch means the candidate headers are not internally
	// chain-linked (number/parentHash mismatch between consecutive headers).
	InvalidBranch
	// NoChainSwitch means the candidate does not outweigh the retained
	// canonical suffix; the canonical chain is left untouched.
	NoChainSwitch
	// NewBetterBranch means the candidate outweighs the canonical suffix it
	// displaces; DisplacedSuffix names the headers a reorg must roll back.
	NewBetterBranch
)

func (o Outcome) String() string {
	switch o {
	case UnknownBranch:
		return "UnknownBranch"
	case InvalidBranch:
		return "InvalidBranch"
	case NoChainSwitch:
		return "NoChainSwitch"
	case NewBetterBranch:
		return "NewBetterBranch"
	default:
		return "Unknown"
	}
}

// Result is BranchResolver's verdict for one candidate chain.
type Result struct {
	Outcome Outcome
	// DisplacedSuffix holds the canonical headers being rolled back, oldest
	// first, valid only when Outcome == NewBetterBranch.
	DisplacedSuffix []*types.Header
	OldWeight       types.ChainWeight
	NewWeight       types.ChainWeight
}

// Resolver evaluates candidate branches against the persisted chain.
type Resolver struct {
	snap chain.Snapshot
}

// New builds a Resolver reading through snap.
func New(snap chain.Snapshot) *Resolver {
	return &Resolver{snap: snap}
}

// Resolve implements §4.7's algorithm for a non-empty candidate chain known
// to be internally contiguous in the caller's intent (linkage is still
// verified here, not assumed).
func (r *Resolver) Resolve(candidates []*types.Header) (Result, error) {
	if len(candidates) == 0 {
		return Result{Outcome: InvalidBranch}, nil
	}
	if !r.internallyLinked(candidates) {
		return Result{Outcome: InvalidBranch}, nil
	}

	first := candidates[0]
	if first.NumberU64() == 0 {
		// A candidate chain starting at genesis has no parent to resolve
		// against; callers never legitimately submit one.
		return Result{Outcome: InvalidBranch}, nil
	}
	parentKnown, err := r.knownAncestor(first)
	if err != nil {
		return Result{}, err
	}
	if !parentKnown {
		return Result{Outcome: UnknownBranch}, nil
	}

	commonAncestorNumber := first.NumberU64() - 1
	commonAncestorHash := first.ParentHash
	baseWeight, ok, err := r.snap.ChainWeight(commonAncestorNumber, commonAncestorHash)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// The ancestor header is known but carries no recorded weight —
		// genesis's implicit zero weight is the only legitimate case.
		baseWeight = types.NewChainWeight(0, nil)
	}

	newWeight := baseWeight
	for _, h := range candidates {
		newWeight = newWeight.Add(h, 0)
	}

	displaced, oldWeight, err := r.canonicalSuffixFrom(commonAncestorNumber, baseWeight)
	if err != nil {
		return Result{}, err
	}

	if !newWeight.GreaterThan(oldWeight) {
		return Result{Outcome: NoChainSwitch, OldWeight: oldWeight, NewWeight: newWeight}, nil
	}
	return Result{
		Outcome:         NewBetterBranch,
		DisplacedSuffix: displaced,
		OldWeight:       oldWeight,
		NewWeight:       newWeight,
	}, nil
}

// internallyLinked verifies candidates form a contiguous chain: each header's
// Number is its predecessor's Number+1 and its ParentHash matches the
// predecessor's hash.
func (r *Resolver) internallyLinked(candidates []*types.Header) bool {
	for i := 1; i < len(candidates); i++ {
		if err := candidates[i].ValidateAgainstParent(candidates[i-1]); err != nil {
			return false
		}
	}
	return true
}

// knownAncestor reports whether first's parent is a known local header —
// canonical or not (a previously queued competing branch also counts, but
// this resolver only has a Snapshot over the canonical store, so it checks
// canonical ancestry; a caller holding queued blocks elsewhere is expected
// to check those first and only invoke Resolve once linkage to our store is
// plausible).
func (r *Resolver) knownAncestor(first *types.Header) (bool, error) {
	return r.snap.HasHeader(first.NumberU64()-1, first.ParentHash)
}

// canonicalSuffixFrom walks the canonical chain forward from
// (ancestorNumber+1) to the current head, returning the suffix (for
// rollback on reorg) and its accumulated weight relative to baseWeight.
func (r *Resolver) canonicalSuffixFrom(ancestorNumber uint64, baseWeight types.ChainWeight) ([]*types.Header, types.ChainWeight, error) {
	head, err := r.snap.HeadHeader()
	if err != nil {
		if err == chain.ErrUnknownBlock {
			return nil, baseWeight, nil
		}
		return nil, types.ChainWeight{}, err
	}

	var suffix []*types.Header
	weight := baseWeight
	for n := ancestorNumber + 1; n <= head.NumberU64(); n++ {
		hash, err := r.snap.CanonicalHash(n)
		if err != nil {
			return nil, types.ChainWeight{}, err
		}
		if hash == (common.Hash{}) {
			break
		}
		h, err := r.snap.HeaderByHash(n, hash)
		if err != nil {
			return nil, types.ChainWeight{}, err
		}
		suffix = append(suffix, h)
		weight = weight.Add(h, 0)
	}
	return suffix, weight, nil
}
