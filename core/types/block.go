package types

import "github.com/coreetc/chainsync/common"

// Body holds a block's content beyond its header: the transaction list and
// the ommer (uncle) headers it references.
type Body struct {
	Transactions []*SignedTransaction
	Ommers       []*Header
}

// Block pairs a Header with its Body. The two are fetched and validated
// separately (GetBlockHeaders vs GetBlockBodies on the wire), so they stay
// distinct types rather than one flattened struct.
type Block struct {
	Header *Header
	Body   *Body
}

// NewBlock assembles a Block from its parts, defaulting a nil Body to an
// empty one so callers never have to nil-check Body.Transactions/Ommers.
func NewBlock(header *Header, body *Body) *Block {
	if body == nil {
		body = &Body{}
	}
	return &Block{Header: header, Body: body}
}

// Hash returns the block's identity, which is its header's hash — the body
// is referenced by the header's TransactionsRoot/OmmersHash, not hashed
// directly.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// NumberU64 returns the block's height.
func (b *Block) NumberU64() uint64 { return b.Header.NumberU64() }

// Transactions returns the block's transaction list.
func (b *Block) Transactions() []*SignedTransaction { return b.Body.Transactions }

// Ommers returns the block's ommer headers.
func (b *Block) Ommers() []*Header { return b.Body.Ommers }
