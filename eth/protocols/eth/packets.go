package eth

import (
	"math/big"

	"github.com/coreetc/chainsync/core/types"
)

// BlockHeadersPacket answers GetBlockHeaders.
type BlockHeadersPacket []*types.Header

// BlockBodiesPacket answers GetBlockBodies.
type BlockBodiesPacket []*types.Body

// ReceiptsPacket answers GetReceipts: one receipt list per requested block.
type ReceiptsPacket [][]*types.Receipt

// NewBlockPacket announces a freshly mined/imported block together with the
// weight of the chain it extends.
type NewBlockPacket struct {
	Block           *types.Block
	TotalDifficulty *big.Int
	ChainWeightTD   []byte // empty on pre-ETC64 peers
	ChainWeightCkpt uint64
}

// IsETC64 reports whether this announcement carries a ChainWeight payload.
func (p *NewBlockPacket) IsETC64() bool { return len(p.ChainWeightTD) > 0 }
