package types

import (
	"io"
	"math/big"

	"github.com/coreetc/chainsync/common"
	"github.com/coreetc/chainsync/crypto"
	"github.com/coreetc/chainsync/rlp"
)

// SignedTransaction is a signed transaction as it appears in a block body or
// on the wire: RLP(nonce, gasPrice, gasLimit, to, value, data, v, r, s).
type SignedTransaction struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *common.Address // nil for a contract-creation transaction
	Value    *big.Int
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int

	// hash caches Hash() once computed; not part of the wire encoding.
	hash *common.Hash
}

// rlpTransaction is the plain-data mirror used for RLP, since To needs
// special empty-string handling for contract creation.
type rlpTransaction struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       []byte // empty for contract creation, 20 bytes otherwise
	Value    *big.Int
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

func (tx *SignedTransaction) toRLP() rlpTransaction {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	return rlpTransaction{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice,
		GasLimit: tx.GasLimit,
		To:       to,
		Value:    tx.Value,
		Data:     tx.Data,
		V:        tx.V,
		R:        tx.R,
		S:        tx.S,
	}
}

// EncodeRLP implements rlp.Encoder.
func (tx *SignedTransaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, tx.toRLP())
}

// DecodeRLP implements rlp.Decoder.
func (tx *SignedTransaction) DecodeRLP(raw []byte) error {
	var r rlpTransaction
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return err
	}
	tx.Nonce = r.Nonce
	tx.GasPrice = r.GasPrice
	tx.GasLimit = r.GasLimit
	if len(r.To) > 0 {
		addr := common.BytesToAddress(r.To)
		tx.To = &addr
	} else {
		tx.To = nil
	}
	tx.Value = r.Value
	tx.Data = r.Data
	tx.V = r.V
	tx.R = r.R
	tx.S = r.S
	tx.hash = nil
	return nil
}

// Hash returns keccak256(rlp(tx)), memoized after the first call.
func (tx *SignedTransaction) Hash() common.Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	enc, err := rlp.EncodeToBytes(tx.toRLP())
	if err != nil {
		panic("types: transaction encode: " + err.Error())
	}
	h := crypto.Keccak256Hash(enc)
	tx.hash = &h
	return h
}

// chainIDFromV recovers the EIP-155 chain ID folded into V (V = chainID*2 +
// 35/36) and the plain recovery id (0 or 1), or reports legacy=true when V
// is the pre-EIP-155 27/28 form carrying no chain ID.
func chainIDFromV(v *big.Int) (chainID *big.Int, recoveryID byte, legacy bool) {
	if v.Cmp(big.NewInt(35)) < 0 {
		return nil, byte(v.Uint64() - 27), true
	}
	// V - 35 = chainID*2 + recoveryID
	tmp := new(big.Int).Sub(v, big.NewInt(35))
	recoveryID = byte(new(big.Int).And(tmp, big.NewInt(1)).Uint64())
	chainID = tmp.Rsh(tmp, 1)
	return chainID, recoveryID, false
}

// signingHash returns the hash signed over: the RLP of the transaction's
// fields with v/r/s replaced by (chainID, 0, 0) when chainID is non-nil
// (EIP-155), or omitted entirely for legacy signatures.
func (tx *SignedTransaction) signingHash(chainID *big.Int) common.Hash {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	if chainID == nil {
		enc, err := rlp.EncodeToBytes(struct {
			Nonce    uint64
			GasPrice *big.Int
			GasLimit uint64
			To       []byte
			Value    *big.Int
			Data     []byte
		}{tx.Nonce, tx.GasPrice, tx.GasLimit, to, tx.Value, tx.Data})
		if err != nil {
			panic("types: signing hash encode: " + err.Error())
		}
		return crypto.Keccak256Hash(enc)
	}
	enc, err := rlp.EncodeToBytes(struct {
		Nonce    uint64
		GasPrice *big.Int
		GasLimit uint64
		To       []byte
		Value    *big.Int
		Data     []byte
		ChainID  *big.Int
		Zero1    uint64
		Zero2    uint64
	}{tx.Nonce, tx.GasPrice, tx.GasLimit, to, tx.Value, tx.Data, chainID, 0, 0})
	if err != nil {
		panic("types: signing hash encode: " + err.Error())
	}
	return crypto.Keccak256Hash(enc)
}

// Sender recovers the address that signed this transaction.
func (tx *SignedTransaction) Sender() (common.Address, error) {
	if tx.V == nil || tx.R == nil || tx.S == nil {
		return common.Address{}, crypto.ErrInvalidSignature
	}
	chainID, recoveryID, legacy := chainIDFromV(tx.V)
	if !legacy && chainID == nil {
		return common.Address{}, ErrInvalidSender
	}
	var signingChainID *big.Int
	if !legacy {
		signingChainID = chainID
	}
	hash := tx.signingHash(signingChainID)
	sig := crypto.SignatureValues{R: tx.R, S: tx.S, V: uint64(recoveryID)}
	addr, err := crypto.Sender(hash, sig, recoveryID)
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}
