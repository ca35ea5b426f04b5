// Package config holds the tunables every chain-sync component reads at
// construction time. There is deliberately no flag/file/env loader here —
// that belongs to the external CLI collaborator; this package is just the
// plain struct and its defaults.
package config

import "time"

// Config collects every tunable knob the sync components are constructed
// with.
type Config struct {
	// Pivot selection (§4.2).
	PivotBlockOffset                     uint64
	PeersToChoosePivotBlockFromPercentage int
	MaximumTargetUpdateFailures           uint32
	MaxTargetDifference                   uint64

	// Fast sync (§4.3).
	FastSyncBlockValidationX uint64 // headers within X of the pivot are always fully validated
	K                        uint64 // mean spacing of sampled full header validations, in blocks
	N                        uint64 // rewind depth after a header validation failure, in blocks
	FastSyncThrottle         time.Duration
	PersistStateSnapshotInterval time.Duration

	// Request shaping, shared across components.
	MaxConcurrentRequests      int
	MaxInflight                int
	MemBatchThreshold          int
	MaxFetcherQueueSize        int
	BlockBodiesPerRequest      int
	BranchResolutionRequestSize int
	PeerResponseTimeout        time.Duration
	SyncRetryInterval          time.Duration

	// Peer pool (§4.1).
	BlacklistTierDurations []time.Duration
	MaxIncomingPeers        int
	MaxOutgoingPeers        int
}

// DefaultConfig returns the tunables chain-sync ships with; callers
// construct a Config literal to override specific fields instead of a
// setter API, matching how the rest of this module treats configuration as
// plain data.
func DefaultConfig() Config {
	return Config{
		PivotBlockOffset:                      64,
		PeersToChoosePivotBlockFromPercentage:  50,
		MaximumTargetUpdateFailures:            5,
		MaxTargetDifference:                    128,
		FastSyncBlockValidationX:               100,
		K:                                      1024,
		N:                                      8192,
		FastSyncThrottle:                       50 * time.Millisecond,
		PersistStateSnapshotInterval:           10 * time.Second,
		MaxConcurrentRequests:                  16,
		MaxInflight:                            512,
		MemBatchThreshold:                      4096,
		MaxFetcherQueueSize:                    2048,
		BlockBodiesPerRequest:                  192,
		BranchResolutionRequestSize:             192,
		PeerResponseTimeout:                     15 * time.Second,
		SyncRetryInterval:                       5 * time.Second,
		BlacklistTierDurations:                  []time.Duration{time.Minute, 10 * time.Minute, time.Hour},
		MaxIncomingPeers:                        50,
		MaxOutgoingPeers:                        25,
	}
}
