// Package eth implements the wire message set this module's participants
// exchange: Status, NewBlockHashes, NewBlock, the header/body/receipt/
// node-data request-response pairs, across protocol versions PV62, PV63 and
// ETC64. Encoding is bit-exact RLP so it interoperates with existing peers;
// the session handshake and framing that carries these messages is an
// external collaborator (see p2p).
package eth

import "math/big"

// Protocol versions this module speaks.
const (
	PV62  = 62
	PV63  = 63
	ETC64 = 64
)

// Message codes.
const (
	StatusMsg          = 0x00
	NewBlockHashesMsg  = 0x01
	NewBlockMsg        = 0x07
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
	GetReceiptsMsg     = 0x0f
	ReceiptsMsg        = 0x10
	GetNodeDataMsg     = 0x0d
	NodeDataMsg        = 0x0e
)

// HashOrNumber is GetBlockHeaders' polymorphic origin: exactly one of Hash
// or Number is meaningful, selected by which was set.
type HashOrNumber struct {
	Hash   [32]byte
	Number uint64
}

// StatusPacket is the handshake message. Pre-ETC64 peers populate
// TotalDifficulty and leave ChainWeight's fields zero; ETC64 peers populate
// both so a mixed-version network still agrees on PeerRecord.chainWeight.
type StatusPacket struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TotalDifficulty *big.Int
	ChainWeightTD   []byte // uint256 bytes; empty on pre-ETC64 peers
	ChainWeightCkpt uint64
	BestHash        [32]byte
	GenesisHash     [32]byte
}

// IsETC64 reports whether this status carries a ChainWeight payload.
func (s *StatusPacket) IsETC64() bool { return len(s.ChainWeightTD) > 0 }

// NewBlockHash is one entry of a NewBlockHashes announcement.
type NewBlockHash struct {
	Hash   [32]byte
	Number uint64
}

// NewBlockHashesPacket announces new block hashes without sending full blocks.
type NewBlockHashesPacket []NewBlockHash

// GetBlockHeadersPacket requests a run of headers starting at Origin.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// GetBlockBodiesPacket requests bodies by block hash.
type GetBlockBodiesPacket [][32]byte

// GetReceiptsPacket requests receipts by block hash.
type GetReceiptsPacket [][32]byte

// GetNodeDataPacket requests trie/code node bytes by keccak256 hash.
type GetNodeDataPacket [][32]byte

// NodeDataPacket is the raw-bytes response to GetNodeData, in request order
// with nil entries standing in for hashes the peer didn't have.
type NodeDataPacket [][]byte
