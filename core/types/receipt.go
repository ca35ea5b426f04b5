package types

import (
	"io"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/rlp"
)

// ByzantiumBlockNumber is the block height at which receipts switch from
// encoding an intermediate PostState root to a boolean Status byte.
const ByzantiumBlockNumber = 4_370_000

// LogEntry is one entry of a receipt's log list.
type LogEntry struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt is the outcome of executing one transaction. Its wire/storage
// encoding is bimodal: pre-Byzantium receipts carry an intermediate state
// root (PostState), post-Byzantium ones carry a Status byte instead — never
// both. BlockNumber decides which form (Re)EncodeRLP produces and is not
// itself part of the encoded bytes.
type Receipt struct {
	PostState         []byte // non-nil only when BlockNumber < ByzantiumBlockNumber
	Status            uint64 // 0 or 1, meaningful only when BlockNumber >= ByzantiumBlockNumber
	CumulativeGasUsed uint64
	LogsBloom         Bloom
	Logs              []*LogEntry

	BlockNumber uint64 // not encoded; set by the caller from context
}

// IsByzantium reports whether r uses the post-Byzantium status encoding.
func (r *Receipt) IsByzantium() bool { return r.BlockNumber >= ByzantiumBlockNumber }

type rlpReceiptLegacy struct {
	PostState         []byte
	CumulativeGasUsed uint64
	LogsBloom         Bloom
	Logs              []*rlpLog
}

type rlpReceiptByzantium struct {
	Status            uint64
	CumulativeGasUsed uint64
	LogsBloom         Bloom
	Logs              []*rlpLog
}

type rlpLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

func toRLPLogs(logs []*LogEntry) []*rlpLog {
	out := make([]*rlpLog, len(logs))
	for i, l := range logs {
		out[i] = &rlpLog{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return out
}

func fromRLPLogs(logs []*rlpLog) []*LogEntry {
	out := make([]*LogEntry, len(logs))
	for i, l := range logs {
		out[i] = &LogEntry{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return out
}

// EncodeRLP implements rlp.Encoder, switching representation on BlockNumber.
func (r *Receipt) EncodeRLP(w io.Writer) error {
	if r.IsByzantium() {
		if r.Status > 1 {
			return ErrReceiptStatusUnsupported
		}
		return rlp.Encode(w, rlpReceiptByzantium{
			Status:            r.Status,
			CumulativeGasUsed: r.CumulativeGasUsed,
			LogsBloom:         r.LogsBloom,
			Logs:              toRLPLogs(r.Logs),
		})
	}
	return rlp.Encode(w, rlpReceiptLegacy{
		PostState:         r.PostState,
		CumulativeGasUsed: r.CumulativeGasUsed,
		LogsBloom:         r.LogsBloom,
		Logs:              toRLPLogs(r.Logs),
	})
}

// DecodeReceipt decodes raw RLP into a Receipt, comparing blockNumber with
// ByzantiumBlockNumber to pick the wire form since the two encodings aren't
// self-describing by shape alone (PostState and Status are both plain byte
// strings at the same list position). Callers — rawdb, wire handlers — know
// the block number the receipt belongs to and must pass it.
func DecodeReceipt(raw []byte, blockNumber uint64) (*Receipt, error) {
	r := &Receipt{BlockNumber: blockNumber}
	if blockNumber >= ByzantiumBlockNumber {
		var dec rlpReceiptByzantium
		if err := rlp.DecodeBytes(raw, &dec); err != nil {
			return nil, err
		}
		if dec.Status > 1 {
			return nil, ErrReceiptStatusUnsupported
		}
		r.Status = dec.Status
		r.CumulativeGasUsed = dec.CumulativeGasUsed
		r.LogsBloom = dec.LogsBloom
		r.Logs = fromRLPLogs(dec.Logs)
		return r, nil
	}
	var dec rlpReceiptLegacy
	if err := rlp.DecodeBytes(raw, &dec); err != nil {
		return nil, err
	}
	r.PostState = dec.PostState
	r.CumulativeGasUsed = dec.CumulativeGasUsed
	r.LogsBloom = dec.LogsBloom
	r.Logs = fromRLPLogs(dec.Logs)
	return r, nil
}
