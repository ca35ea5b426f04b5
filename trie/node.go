// Package trie decodes Merkle-Patricia nodes well enough for the state
// scheduler to walk the trie it doesn't otherwise interpret: verify a node's
// hash, find its child references, and recognize account leaves so their
// storage root and code hash get scheduled too. It does not implement
// trie construction, proofs, or a Get/Put API — those belong to the
// external state-execution collaborator, not to chain-sync.
package trie

import (
	"errors"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/crypto"
	"github.com/coreetc/chainsync/rlp"
)

// ErrHashMismatch is returned by VerifyNode when keccak256(raw) != hash.
var ErrHashMismatch = errors.New("trie: node hash mismatch")

// ErrMalformedNode is returned when a node's RLP shape matches neither a
// 17-item branch nor a 2-item short (leaf/extension) node.
var ErrMalformedNode = errors.New("trie: malformed node")

// Kind classifies a decoded node.
type Kind int

const (
	// KindBranch is a 17-item node: 16 nibble slots plus a value slot.
	KindBranch Kind = iota
	// KindExtension is a 2-item node whose value is another node's hash.
	KindExtension
	// KindLeaf is a 2-item node whose value is the account/storage payload.
	KindLeaf
)

// Node is a decoded trie node.
type Node struct {
	Kind Kind

	// Branch: up to 16 child hashes (zero hash = empty slot) plus Value.
	Children [16]common.Hash
	// Extension: the single child hash referenced by Path.
	Child common.Hash

	Path  []byte // hex-prefix-decoded nibble path (extension/leaf only)
	Value []byte // branch's 17th slot, or a leaf's payload
}

// rlpNode17 mirrors the wire shape of a branch node: sixteen string-or-list
// child slots plus a value slot. Each of the sixteen slots is either an
// empty string (no child) or a 32-byte hash; go-ethereum family nodes can
// also embed short children inline, which this package does not support.
type rlpNode17 struct {
	C0, C1, C2, C3, C4, C5, C6, C7  []byte
	C8, C9, C10, C11, C12, C13, C14 []byte
	C15                              []byte
	Value                            []byte
}

type rlpNode2 struct {
	Path  []byte
	Value []byte
}

// VerifyNode checks that raw hashes to hash, the mandatory check before a
// response from an untrusted peer is decoded or trusted.
func VerifyNode(hash common.Hash, raw []byte) error {
	if crypto.Keccak256Hash(raw) != hash {
		return ErrHashMismatch
	}
	return nil
}

// DecodeNode parses raw into a Node. Callers must call VerifyNode first.
func DecodeNode(raw []byte) (*Node, error) {
	var n17 rlpNode17
	if err := rlp.DecodeBytes(raw, &n17); err == nil {
		return decodeBranch(n17), nil
	}

	var n2 rlpNode2
	if err := rlp.DecodeBytes(raw, &n2); err != nil {
		return nil, ErrMalformedNode
	}
	nibbles, isLeaf := decodeHexPrefix(n2.Path)
	if isLeaf {
		return &Node{Kind: KindLeaf, Path: nibbles, Value: n2.Value}, nil
	}
	return &Node{Kind: KindExtension, Path: nibbles, Child: common.BytesToHash(n2.Value)}, nil
}

func decodeBranch(n rlpNode17) *Node {
	raw := [16][]byte{n.C0, n.C1, n.C2, n.C3, n.C4, n.C5, n.C6, n.C7,
		n.C8, n.C9, n.C10, n.C11, n.C12, n.C13, n.C14, n.C15}
	node := &Node{Kind: KindBranch, Value: n.Value}
	for i, c := range raw {
		if len(c) == common.HashLength {
			node.Children[i] = common.BytesToHash(c)
		}
	}
	return node
}

// decodeHexPrefix strips the MPT hex-prefix nibble encoding's leading flag
// nibble, returning the path's remaining nibbles and whether the path
// terminates a key (leaf) as opposed to continuing it (extension).
func decodeHexPrefix(enc []byte) (nibbles []byte, isLeaf bool) {
	if len(enc) == 0 {
		return nil, false
	}
	first := enc[0]
	isLeaf = first&0x20 != 0
	oddLen := first&0x10 != 0

	var all []byte
	for _, b := range enc {
		all = append(all, b>>4, b&0x0F)
	}
	if oddLen {
		return all[1:], isLeaf
	}
	return all[2:], isLeaf
}

// ChildHashes returns every non-empty child-node hash this node references,
// for the state scheduler to enqueue next.
func (n *Node) ChildHashes() []common.Hash {
	switch n.Kind {
	case KindBranch:
		var out []common.Hash
		for _, h := range n.Children {
			if !h.IsZero() {
				out = append(out, h)
			}
		}
		return out
	case KindExtension:
		if n.Child.IsZero() {
			return nil
		}
		return []common.Hash{n.Child}
	default:
		return nil
	}
}

// AccountLeaf is the payload of a leaf node whose value decodes as an
// account: (nonce, balance, storageRoot, codeHash). The state scheduler
// enqueues StorageRoot (as a StorageTrie root) and CodeHash (as Code) for
// every account leaf it encounters.
type AccountLeaf struct {
	Nonce       uint64
	Balance     []byte
	StorageRoot common.Hash
	CodeHash    common.Hash
}

// DecodeAccountLeaf attempts to parse a leaf node's Value as an account. It
// returns ok=false (not an error) when Value doesn't have the 4-item account
// shape, since storage-trie leaves hold raw values instead.
func DecodeAccountLeaf(value []byte) (acc AccountLeaf, ok bool) {
	var raw struct {
		Nonce       uint64
		Balance     []byte
		StorageRoot []byte
		CodeHash    []byte
	}
	if err := rlp.DecodeBytes(value, &raw); err != nil {
		return AccountLeaf{}, false
	}
	if len(raw.StorageRoot) != common.HashLength || len(raw.CodeHash) != common.HashLength {
		return AccountLeaf{}, false
	}
	return AccountLeaf{
		Nonce:       raw.Nonce,
		Balance:     raw.Balance,
		StorageRoot: common.BytesToHash(raw.StorageRoot),
		CodeHash:    common.BytesToHash(raw.CodeHash),
	}, true
}
